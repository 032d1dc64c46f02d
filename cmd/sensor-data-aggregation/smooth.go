package main

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/i474232898/sensor-data-aggregation/internal/export"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
	dsp "github.com/i474232898/sensor-data-aggregation/internal/signal"
)

var (
	smoothIn      string
	smoothOut     string
	smoothStation string
	smoothOpts    dsp.SmoothOptions
	smoothMethod  string
)

var smoothCmd = &cobra.Command{
	Use:   "smooth",
	Short: "Resample and filter a CSV export",
	Long: `Resample every station/sensor series of a CSV export to a fixed interval
and apply one filter:

  none         resample only
  butterworth  order-3 zero-phase low-pass below --cutoff Hz
  sma          centered moving average over --window samples
  ema          exponential moving average with --span
  background   low-pass below --cutoff, minus the drift below --background-cutoff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if smoothIn == "" || smoothOut == "" {
			return errors.New("--in and --out are required")
		}
		records, err := export.ReadFile(smoothIn)
		if err != nil {
			return err
		}
		if smoothStation != "" {
			records = byStation(records, smoothStation)
		}

		smoothOpts.Method = dsp.Method(smoothMethod)
		out, err := dsp.SmoothSeries(records, smoothOpts)
		if err != nil {
			return err
		}
		if err := export.WriteFile(smoothOut, out); err != nil {
			return err
		}
		pterm.Success.Printfln("Smoothed %d records into %d (%s, every %s) -> %s",
			len(records), len(out), smoothMethod, smoothOpts.Interval, smoothOut)
		return nil
	},
}

func init() {
	smoothCmd.Flags().StringVarP(&smoothIn, "in", "i", "", "input CSV path")
	smoothCmd.Flags().StringVarP(&smoothOut, "out", "o", "", "output CSV path")
	smoothCmd.Flags().StringVar(&smoothStation, "station", "", "only smooth this station")
	smoothCmd.Flags().StringVar(&smoothMethod, "method", string(dsp.MethodNone), "none, butterworth, sma, ema or background")
	smoothCmd.Flags().DurationVar(&smoothOpts.Interval, "interval", time.Minute, "resampling interval")
	smoothCmd.Flags().Float64Var(&smoothOpts.CutoffHz, "cutoff", 0.001, "low-pass cutoff in Hz")
	smoothCmd.Flags().Float64Var(&smoothOpts.BackgroundCutoffHz, "background-cutoff", 0.00001, "background drift cutoff in Hz")
	smoothCmd.Flags().IntVar(&smoothOpts.Window, "window", 5, "moving average window in samples")
	smoothCmd.Flags().Float64Var(&smoothOpts.Span, "span", 10, "exponential moving average span")
}

func byStation(records []sensor.Observation, station string) []sensor.Observation {
	out := records[:0:0]
	for _, r := range records {
		if r.Station == station {
			out = append(out, r)
		}
	}
	return out
}
