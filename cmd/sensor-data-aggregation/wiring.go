package main

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/logger"
	"github.com/i474232898/sensor-data-aggregation/internal/metrics"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor/vendors"
	"github.com/i474232898/sensor-data-aggregation/internal/store"
)

var errNoVendors = errors.WithHint(
	errors.New("no vendor credentials configured"),
	"set e.g. TELLUS_KEY or SENSECAP_API_ID and SENSECAP_API_KEY")

// components is everything a command needs to run retrievals.
type components struct {
	metrics *metrics.Metrics
	store   *store.MemoryStore
	service *sensor.Service
	// jobs holds one job per enabled vendor with its configured filters;
	// ranges are set by the caller.
	jobs []sensor.Job
}

func buildComponents(cfg *config.AppConfig) *components {
	m := metrics.New("")
	memStore := store.NewMemoryStore(cfg.StoreMaxRecords, cfg.StoreMaxAge)

	engine := sensor.NewEngine(sensor.EngineOptions{
		MaxCalls:    cfg.MaxCalls,
		Concurrency: cfg.SplitConcurrency,
		Logger:      logger.ComponentLogger("engine"),
		Observer:    m,
	})

	adapters := buildAdapters(cfg)
	service := sensor.NewService(memStore, engine, sensor.NewReconciler(cfg.Stations), adapters, sensor.ServiceOptions{
		Parallel: cfg.JobParallel,
		Logger:   logger.ComponentLogger("service"),
	})

	jobs := make([]sensor.Job, 0, len(adapters))
	for _, name := range service.Vendors() {
		jobs = append(jobs, sensor.Job{Vendor: name})
	}

	return &components{
		metrics: m,
		store:   memStore,
		service: service,
		jobs:    jobs,
	}
}

// buildAdapters creates an adapter for every vendor with credentials.
func buildAdapters(cfg *config.AppConfig) []sensor.Adapter {
	// Shared HTTP client for outbound vendor calls; per-call deadlines are
	// applied by the vendor transport.
	client := &http.Client{}

	httpConfig := func(vendor string) vendors.HTTPClientConfig {
		c := vendors.DefaultHTTPClientConfig(client)
		c.Timeout = cfg.HTTPTimeout
		c.RPS = cfg.VendorRPS
		c.Logger = logger.ComponentLogger("vendor." + vendor)
		return c
	}

	var adapters []sensor.Adapter

	if cfg.HOBOlink.Enabled() {
		authURL := cfg.HOBOlink.AuthURL
		if authURL == "" {
			authURL = vendors.HOBOlinkAuthURL
		}
		tokens := vendors.NewClientCredentials(vendors.HOBOlinkName, authURL,
			cfg.HOBOlink.ClientID, cfg.HOBOlink.ClientSecret, client, cfg.CacheTokens)
		adapters = append(adapters, vendors.NewHOBOlink(vendors.HOBOlinkConfig{
			UserID:   cfg.HOBOlink.UserID,
			LoggerID: cfg.HOBOlink.LoggerID,
			Location: cfg.Timezone,
		}, tokens, httpConfig(vendors.HOBOlinkName)))
	}

	if cfg.Licor.Enabled() {
		adapters = append(adapters, vendors.NewLicor(vendors.LicorConfig{
			Devices:  cfg.Licor.Devices,
			Location: cfg.Timezone,
		}, vendors.StaticToken(cfg.Licor.Key), httpConfig(vendors.LicorName)))
	}

	if cfg.Tellus.Enabled() {
		adapters = append(adapters, vendors.NewTellus(vendors.TellusConfig{
			APIKey:  cfg.Tellus.Key,
			Devices: cfg.Tellus.Devices,
			Metrics: cfg.Tellus.Metrics,
		}, httpConfig(vendors.TellusName)))
	}

	if cfg.SenseCAP.Enabled() {
		adapters = append(adapters, vendors.NewSenseCAP(vendors.SenseCAPConfig{
			APIID:   cfg.SenseCAP.APIID,
			APIKey:  cfg.SenseCAP.APIKey,
			Devices: cfg.SenseCAP.Devices,
		}, httpConfig(vendors.SenseCAPName)))
	}

	return adapters
}

// jobsFor builds one job per vendor over tr. Service.Retrieve splits jobs
// for per-device vendors further. An empty vendor list selects
// every configured vendor.
func jobsFor(c *components, vendorNames []string, tr sensor.TimeRange, filters sensor.Filters) ([]sensor.Job, error) {
	if len(c.jobs) == 0 {
		return nil, errNoVendors
	}
	if len(vendorNames) == 0 {
		vendorNames = c.service.Vendors()
	}
	jobs := make([]sensor.Job, 0, len(vendorNames))
	for _, name := range vendorNames {
		if _, ok := c.service.Adapter(name); !ok {
			return nil, errors.WithHintf(errors.Newf("vendor %q is not configured", name),
				"configured vendors: %v", c.service.Vendors())
		}
		jobs = append(jobs, sensor.Job{
			Vendor:  name,
			Request: sensor.RetrievalRequest{Range: tr, Filters: filters},
		})
	}
	return jobs, nil
}
