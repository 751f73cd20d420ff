package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tjfontaine/model-switch-gateway/internal/journal"
)

// StatsSource is the read side of the request journal.
type StatsSource interface {
	Summary(ctx context.Context) ([]journal.ProviderSummary, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Stats prints per-provider totals and the most recent requests.
func Stats(ctx context.Context, w io.Writer, src StatsSource, recent int) error {
	summaries, err := src.Summary(ctx)
	if err != nil {
		return fmt.Errorf("read journal summary: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No requests recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tREQUESTS\tERRORS\tAVG\tLAST SEEN")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Provider,
			humanize.Comma(s.Requests),
			humanize.Comma(s.Errors),
			s.AvgDuration.Round(time.Millisecond),
			humanize.Time(s.LastSeen))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if recent <= 0 {
		return nil
	}
	entries, err := src.Recent(ctx, recent)
	if err != nil {
		return fmt.Errorf("read recent requests: %w", err)
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROVIDER\tMETHOD\tPATH\tMODEL\tSTATUS\tDURATION")
	for _, e := range entries {
		model := e.ModelIn
		if e.ModelOut != "" && e.ModelOut != e.ModelIn {
			model = e.ModelIn + " -> " + e.ModelOut
		}
		status := fmt.Sprint(e.Status)
		if e.Error != "" {
			status = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Provider, e.Method, e.Path, model, status,
			e.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}
