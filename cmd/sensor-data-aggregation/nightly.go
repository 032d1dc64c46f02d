package main

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/i474232898/sensor-data-aggregation/internal/export"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
	dsp "github.com/i474232898/sensor-data-aggregation/internal/signal"
)

var (
	nightlyVendor      string
	nightlyStartDay    string
	nightlyEndDay      string
	nightlyMonth       string
	nightlyWindowStart string
	nightlyWindowEnd   string
	nightlyZone        string
	nightlyDevices     []string
	nightlyMetrics     []string
	nightlyOut         string
)

var nightlyCmd = &cobra.Command{
	Use:   "nightly",
	Short: "Average readings inside a nightly time window per day",
	Long: `Retrieve whole days from one vendor and average, per day and station,
the readings whose local time falls inside [--window-start, --window-end].

Select days with --start-day/--end-day, or a month with --month; a month is
covered by its Sunday-start weeks that have at least four days in it, and
weekly means are printed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := time.LoadLocation(nightlyZone)
		if err != nil {
			return errors.Wrapf(err, "invalid --tz %q", nightlyZone)
		}
		from, err := dsp.ParseClock(nightlyWindowStart)
		if err != nil {
			return err
		}
		to, err := dsp.ParseClock(nightlyWindowEnd)
		if err != nil {
			return err
		}

		tr, weeks, err := nightlyRange(loc)
		if err != nil {
			return err
		}

		c := buildComponents(cfg)
		jobs, err := jobsFor(c, []string{nightlyVendor}, tr, sensor.Filters{
			Devices: nightlyDevices,
			Metrics: nightlyMetrics,
		})
		if err != nil {
			return err
		}

		pterm.Info.Printfln("Retrieving %s from %s", tr, nightlyVendor)
		run, err := c.service.Retrieve(cmd.Context(), jobs)
		if err != nil {
			printRunSummary(run)
			return err
		}
		if nightlyOut != "" {
			if err := export.WriteFile(nightlyOut, run.Records); err != nil {
				return err
			}
		}

		averages := dsp.WindowAverages(run.Records, from, to, loc)
		printDailyAverages(averages)
		if len(weeks) > 0 {
			printWeeklyAverages(averages, weeks, loc)
		}
		return nil
	},
}

func init() {
	nightlyCmd.Flags().StringVar(&nightlyVendor, "vendor", "tellus", "vendor to query")
	nightlyCmd.Flags().StringVar(&nightlyStartDay, "start-day", "", "first day, YYYY-MM-DD")
	nightlyCmd.Flags().StringVar(&nightlyEndDay, "end-day", "", "last day (inclusive), YYYY-MM-DD")
	nightlyCmd.Flags().StringVar(&nightlyMonth, "month", "", "month, YYYY-MM (instead of --start-day/--end-day)")
	nightlyCmd.Flags().StringVar(&nightlyWindowStart, "window-start", "02:00", "window start, HH:MM")
	nightlyCmd.Flags().StringVar(&nightlyWindowEnd, "window-end", "04:00", "window end (inclusive), HH:MM")
	nightlyCmd.Flags().StringVar(&nightlyZone, "tz", "America/Chicago", "zone the window and days are read in")
	nightlyCmd.Flags().StringSliceVar(&nightlyDevices, "devices", nil, "device ids (default from configuration)")
	nightlyCmd.Flags().StringSliceVar(&nightlyMetrics, "metrics", nil, "metric names (Tellus)")
	nightlyCmd.Flags().StringVarP(&nightlyOut, "out", "o", "", "also write the raw records to this CSV path")
}

func nightlyRange(loc *time.Location) (sensor.TimeRange, []sensor.TimeRange, error) {
	if nightlyMonth == "" {
		if nightlyStartDay == "" || nightlyEndDay == "" {
			return sensor.TimeRange{}, nil, errors.WithHint(
				errors.New("no days selected"),
				"pass --start-day and --end-day, or --month")
		}
		tr, err := dsp.DaysRange(nightlyStartDay, nightlyEndDay, loc)
		return tr, nil, err
	}

	month, err := time.Parse("2006-01", nightlyMonth)
	if err != nil {
		return sensor.TimeRange{}, nil, errors.Newf("month must be in YYYY-MM format, got: %s", nightlyMonth)
	}
	weeks := dsp.MonthWeeks(month.Year(), month.Month(), loc)
	tr, err := sensor.NewTimeRange(weeks[0].Start.UTC(), weeks[len(weeks)-1].End.UTC())
	return tr, weeks, err
}

func printDailyAverages(averages []dsp.DailyAverage) {
	data := pterm.TableData{{"Date", "Station", "Mean", "Readings"}}
	for _, a := range averages {
		data = append(data, []string{a.Date, a.Station, strconv.FormatFloat(a.Mean, 'f', 3, 64), strconv.Itoa(a.Count)})
	}
	pterm.DefaultSection.Println("Nightly averages")
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printWeeklyAverages(averages []dsp.DailyAverage, weeks []sensor.TimeRange, loc *time.Location) {
	data := pterm.TableData{{"Week of", "Station", "Mean of nights", "Nights"}}
	for _, w := range weeks {
		sums := map[string]float64{}
		counts := map[string]int{}
		var stations []string
		for _, a := range averages {
			day, err := time.ParseInLocation(dsp.DateLayout, a.Date, loc)
			if err != nil || day.Before(w.Start) || !day.Before(w.End) {
				continue
			}
			if counts[a.Station] == 0 {
				stations = append(stations, a.Station)
			}
			sums[a.Station] += a.Mean
			counts[a.Station]++
		}
		for _, s := range stations {
			data = append(data, []string{
				w.Start.In(loc).Format(dsp.DateLayout),
				s,
				strconv.FormatFloat(sums[s]/float64(counts[s]), 'f', 3, 64),
				strconv.Itoa(counts[s]),
			})
		}
	}
	pterm.DefaultSection.Println("Weekly means")
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
