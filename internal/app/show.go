package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent permission-state transitions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show transitions")
	}
	if closeStore != nil {
		defer closeStore()
	}

	transitions, err := store.ListRecentTransitions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		fmt.Fprintln(os.Stdout, "no transitions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tBot\tFrom\tTo\tReason")

	for _, tr := range transitions {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			tr.At.UTC().Format(time.RFC3339),
			tr.BotID,
			tr.OldState,
			tr.NewState,
			sanitizeInline(tr.Reason),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
