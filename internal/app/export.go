package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"trade-guardian/internal/storage"
)

// Export renders the transition audit log as CSV and/or a per-bot severity
// timeline PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
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

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	transitions, err := store.ListTransitionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		a.Logger.Info().Msg("no transitions found for export window")
		return nil
	}

	downsampled := downsampleTransitions(transitions, opts.MaxPoints)
	a.Logger.Info().Int("total", len(transitions)).Int("exported", len(downsampled)).Msg("exporting transitions")

	if opts.CSVPath != "" {
		if err := writeTransitionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTransitionsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleTransitions(transitions []storage.TransitionRecord, max int) []storage.TransitionRecord {
	if max <= 0 || len(transitions) <= max {
		return transitions
	}

	result := make([]storage.TransitionRecord, 0, max)
	step := float64(len(transitions)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(transitions) {
			idx = len(transitions) - 1
		}
		result = append(result, transitions[idx])
	}
	return result
}

func writeTransitionsCSV(path string, transitions []storage.TransitionRecord) error {
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

	header := []string{"ts", "bot_id", "old_state", "new_state", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, tr := range transitions {
		record := []string{
			tr.At.UTC().Format(time.RFC3339),
			tr.BotID,
			tr.OldState,
			tr.NewState,
			tr.Reason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// severityLevel maps an audit state label onto the chart's Y axis.
func severityLevel(state string) float64 {
	switch state {
	case "allow":
		return 0
	case "downgrade":
		return 1
	case "pause":
		return 2
	case "suspend":
		return 3
	}
	return -1
}

func writeTransitionsPNG(path string, transitions []storage.TransitionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byBot := make(map[string][]storage.TransitionRecord)
	for _, tr := range transitions {
		byBot[tr.BotID] = append(byBot[tr.BotID], tr)
	}

	botIDs := make([]string, 0, len(byBot))
	for botID := range byBot {
		botIDs = append(botIDs, botID)
	}
	sort.Strings(botIDs)

	severityFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Severity (0=allow 3=suspend)",
			ValueFormatter: severityFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 3},
		},
	}

	for _, botID := range botIDs {
		records := byBot[botID]
		x := make([]time.Time, len(records))
		y := make([]float64, len(records))
		for i, tr := range records {
			x[i] = tr.At
			y[i] = severityLevel(tr.NewState)
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    botID,
			XValues: x,
			YValues: y,
		})
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
