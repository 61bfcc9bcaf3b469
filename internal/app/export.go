package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"strconv"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ooni-anomaly-watch/internal/storage"
)

// ExportOptions hold parameters for exporting stored run history.
type ExportOptions struct {
	Input     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders one input's run history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Input == "" {
		return errors.New("--input must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -90)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesForInput(ctx, opts.Input, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("input", opts.Input).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Input, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.RunSample, max int) []storage.RunSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.RunSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.RunSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "input", "measurement_count", "anomaly_count", "failure_count", "confirmed_count", "anomaly_rate", "weird_rate", "change", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		change := ""
		if sample.Change != nil {
			change = sample.Change.String()
		}
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.CreatedAt.Format(time.RFC3339),
			sample.Input,
			strconv.Itoa(sample.Measurements),
			strconv.Itoa(sample.Anomalies),
			strconv.Itoa(sample.Failures),
			strconv.Itoa(sample.Confirmed),
			sample.AnomalyRate.String(),
			sample.WeirdRate.String(),
			change,
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, input string, samples []storage.RunSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(samples))
	anomaly := make([]float64, 0, len(samples))
	weird := make([]float64, 0, len(samples))

	for _, sample := range samples {
		if sample.Status != "complete" {
			continue
		}
		x = append(x, sample.CreatedAt)
		anomaly = append(anomaly, sample.AnomalyRate.InexactFloat64())
		weird = append(weird, sample.WeirdRate.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough complete samples to chart")
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  input,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Anomaly rate",
				XValues: x,
				YValues: anomaly,
			},
			chart.TimeSeries{
				Name:    "Weird rate",
				XValues: x,
				YValues: weird,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

