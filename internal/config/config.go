package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
)

var validate = validator.New()

// HOBOlinkSettings are the datalogger credentials.
type HOBOlinkSettings struct {
	ClientID     string
	ClientSecret string
	UserID       string
	LoggerID     string
	AuthURL      string `validate:"omitempty,url"`
}

func (s HOBOlinkSettings) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.UserID != ""
}

// LicorSettings are the gas-analyzer cloud credentials.
type LicorSettings struct {
	Key     string
	Devices []string
}

func (s LicorSettings) Enabled() bool { return s.Key != "" }

// TellusSettings are the sensor-network credentials.
type TellusSettings struct {
	Key     string
	Devices []string
	Metrics []string
}

func (s TellusSettings) Enabled() bool { return s.Key != "" }

// SenseCAPSettings are the LoRaWAN credentials.
type SenseCAPSettings struct {
	APIID   string
	APIKey  string
	Devices []string
}

func (s SenseCAPSettings) Enabled() bool { return s.APIID != "" && s.APIKey != "" }

// LogSettings drive logger initialization.
type LogSettings struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=console json"`
	File   string
}

type AppConfig struct {
	HOBOlink HOBOlinkSettings
	Licor    LicorSettings
	Tellus   TellusSettings
	SenseCAP SenseCAPSettings

	// HTTPTimeout bounds a single vendor call.
	HTTPTimeout time.Duration `validate:"gt=0"`

	// MaxCalls is the per-retrieval vendor call ceiling; negative disables it.
	MaxCalls int

	SplitConcurrency int     `validate:"gte=0"`
	JobParallel      int     `validate:"gte=0"`
	VendorRPS        float64 `validate:"gte=0"`
	CacheTokens      bool

	// FetchInterval controls how often configured vendors are synced, and
	// SyncLookback how far back each sync reaches.
	FetchInterval time.Duration `validate:"gt=0"`
	SyncLookback  time.Duration `validate:"gt=0"`

	// In-memory store retention.
	StoreMaxRecords int           `validate:"gte=0"` // per station (0 = unlimited)
	StoreMaxAge     time.Duration `validate:"gte=0"` // 0 = unlimited

	// Timezone renders and reads naive vendor timestamps.
	Timezone *time.Location `validate:"required"`

	// Stations maps device or logger ids to station labels.
	Stations map[string]string

	Log LogSettings

	Port string `validate:"required,numeric"`
}

// LoadEnv reads a .env file into the environment when one exists.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.HOBOlink = HOBOlinkSettings{
		ClientID:     os.Getenv("HOBOLINK_CLIENT_ID"),
		ClientSecret: os.Getenv("HOBOLINK_CLIENT_SECRET"),
		UserID:       os.Getenv("HOBOLINK_USER_ID"),
		LoggerID:     os.Getenv("HOBOLINK_LOGGER_ID"),
		AuthURL:      os.Getenv("HOBOLINK_AUTH_URL"),
	}
	cfg.Licor = LicorSettings{
		Key:     os.Getenv("LICOR_KEY"),
		Devices: common.SplitList(os.Getenv("LICOR_DEVICES")),
	}
	cfg.Tellus = TellusSettings{
		Key:     os.Getenv("TELLUS_KEY"),
		Devices: common.SplitList(os.Getenv("TELLUS_DEVICES")),
		Metrics: common.SplitList(os.Getenv("TELLUS_METRICS")),
	}
	cfg.SenseCAP = SenseCAPSettings{
		APIID:   os.Getenv("SENSECAP_API_ID"),
		APIKey:  os.Getenv("SENSECAP_API_KEY"),
		Devices: common.SplitList(os.Getenv("SENSECAP_DEVICES")),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	// Scheduler interval: default 15 minutes.
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if cfg.SyncLookback, err = getenvDuration("SYNC_LOOKBACK", "1h"); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "720h"); err != nil {
		return nil, err
	}

	cfg.MaxCalls = getenvInt("MAX_CALLS", 10000)
	cfg.SplitConcurrency = getenvInt("SPLIT_CONCURRENCY", 1)
	cfg.JobParallel = getenvInt("JOB_PARALLEL", 1)
	cfg.StoreMaxRecords = getenvInt("STORE_MAX_RECORDS", 500000)
	cfg.CacheTokens = getenvBool("CACHE_TOKENS", true)
	if cfg.VendorRPS, err = getenvFloat("VENDOR_RPS", 0); err != nil {
		return nil, err
	}

	tz := getenvDefault("VENDOR_TIMEZONE", "UTC")
	if cfg.Timezone, err = time.LoadLocation(tz); err != nil {
		return nil, errors.Wrapf(err, "invalid VENDOR_TIMEZONE %q", tz)
	}

	if path := os.Getenv("STATIONS_FILE"); path != "" {
		if cfg.Stations, err = LoadStations(path); err != nil {
			return nil, err
		}
	}

	cfg.Log = LogSettings{
		Level:  strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getenvDefault("LOG_FORMAT", "console")),
		File:   os.Getenv("LOG_FILE"),
	}
	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// EnabledVendors lists the vendors whose credentials are present.
func (c *AppConfig) EnabledVendors() []string {
	var out []string
	if c.HOBOlink.Enabled() {
		out = append(out, "hobolink")
	}
	if c.Licor.Enabled() {
		out = append(out, "licor")
	}
	if c.SenseCAP.Enabled() {
		out = append(out, "sensecap")
	}
	if c.Tellus.Enabled() {
		out = append(out, "tellus")
	}
	return out
}

type stationsFile struct {
	Stations map[string]string `yaml:"stations"`
}

// LoadStations reads a YAML file of the form
//
//	stations:
//	  "21079800": North Field
func LoadStations(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stations file")
	}
	var f stationsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "parse stations file %s", path)
	}
	return f.Stations, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
