package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
	"github.com/i474232898/sensor-data-aggregation/internal/metrics"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
	"github.com/i474232898/sensor-data-aggregation/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app. m may be nil,
// in which case /metrics is not mounted.
func RegisterRoutes(app *fiber.App, service *sensor.Service, m *metrics.Metrics) {
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/vendors", func(c *fiber.Ctx) error {
		vendors := make([]vendorInfo, 0)
		for _, name := range service.Vendors() {
			a, _ := service.Adapter(name)
			capability := a.Capability()
			vendors = append(vendors, vendorInfo{
				Name:     name,
				Signal:   capability.Signal.String(),
				Strategy: capability.Strategy.String(),
			})
		}
		return c.JSON(fiber.Map{"vendors": vendors})
	})

	v1.Get("/stations", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"stations": service.Stations()})
	})

	v1.Get("/observations/latest", func(c *fiber.Ctx) error {
		station := c.Query("station")
		if station == "" {
			return fiber.NewError(fiber.StatusBadRequest, "station query parameter is required")
		}
		obs, err := service.Latest(station)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no observations for requested station")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch observations")
		}
		return c.JSON(obs)
	})

	v1.Get("/observations", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := service.Range(req.Station, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no observations for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch observations")
		}

		return c.JSON(fiber.Map{
			"station":      req.Station,
			"from":         req.From,
			"to":           req.To,
			"observations": observations,
		})
	})

	v1.Post("/retrievals", func(c *fiber.Ctx) error {
		var body retrievalBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if _, ok := service.Adapter(body.Vendor); !ok {
			return fiber.NewError(fiber.StatusBadRequest, "vendor "+strconv.Quote(body.Vendor)+" is not configured")
		}
		job, err := body.job()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		run, err := service.FetchAndStore(c.UserContext(), []sensor.Job{job})
		if m != nil {
			m.ObserveRun(run, err)
		}
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
				"run":     run,
			})
		}
		return c.JSON(fiber.Map{"run": run, "count": len(run.Records)})
	})
}

type vendorInfo struct {
	Name     string `json:"name"`
	Signal   string `json:"signal"`
	Strategy string `json:"strategy"`
}

// rangeQuery holds query parameters for the observations endpoint.
type rangeQuery struct {
	Station string    `validate:"required"`
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	q.Station = c.Query("station")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	q.From = from
	q.To = to
	return nil
}

// retrievalBody is the payload of POST /retrievals.
type retrievalBody struct {
	Vendor  string   `json:"vendor" validate:"required"`
	From    string   `json:"from" validate:"required"`
	To      string   `json:"to" validate:"required"`
	Devices []string `json:"devices"`
	Metrics []string `json:"metrics"`
	Logger  string   `json:"logger"`
}

func (b retrievalBody) job() (sensor.Job, error) {
	from, err := parseTime(b.From)
	if err != nil {
		return sensor.Job{}, err
	}
	to, err := parseTime(b.To)
	if err != nil {
		return sensor.Job{}, err
	}
	tr, err := sensor.NewTimeRange(from, to)
	if err != nil {
		return sensor.Job{}, err
	}
	return sensor.Job{
		Vendor: b.Vendor,
		Request: sensor.RetrievalRequest{
			Range: tr,
			Filters: sensor.Filters{
				Devices: common.SplitList(strings.Join(b.Devices, ",")),
				Metrics: common.SplitList(strings.Join(b.Metrics, ",")),
				Logger:  b.Logger,
			},
		},
	}, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
