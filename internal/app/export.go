package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-price-alerts/internal/history"
)

// Export fetches a historical price series and writes it as CSV and/or a
// PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = a.Config.Market.Convert
	}

	client := history.NewClient(history.Options{
		BaseURL:   a.Config.History.BaseURL,
		Timeout:   a.Config.History.RequestTimeout,
		UserAgent: a.Config.Market.UserAgent,
	}, a.Logger)

	points, err := client.Series(ctx, opts.Symbol, opts.Days, opts.VsCurrency)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no historical points returned")
		return nil
	}

	a.Logger.Info().Str("symbol", opts.Symbol).Int("points", len(points)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, opts, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, opts, points); err != nil {
			return err
		}
	}

	return nil
}

func writeSeriesCSV(path string, opts ExportOptions, points []history.Point) error {
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

	header := []string{"ts", "symbol", "price", "currency"}
	if err := writer.Write(header); err != nil {
		return err
	}

	symbol := strings.ToUpper(opts.Symbol)
	currency := strings.ToUpper(opts.VsCurrency)
	for _, p := range points {
		record := []string{
			p.Time.UTC().Format(time.RFC3339),
			symbol,
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			currency,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSeriesPNG(path string, opts ExportOptions, points []history.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Time
		y[i] = p.Price
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           fmt.Sprintf("Price (%s)", strings.ToUpper(opts.VsCurrency)),
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    strings.ToUpper(opts.Symbol),
				XValues: x,
				YValues: y,
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
