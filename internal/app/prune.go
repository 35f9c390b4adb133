package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Prune deletes transition audit entries older than the retention cutoff.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("保留时长必须大于零，请检查 --older-than")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法清理审计日志")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		a.Logger.Warn().Msg("prune dry-run：不会写入数据库")
		transitions, listErr := store.ListTransitionsBetween(ctx, time.Time{}, cutoff)
		if listErr != nil {
			return listErr
		}
		fmt.Fprintf(os.Stdout, "would delete %d transitions older than %s\n", len(transitions), cutoff.Format(time.RFC3339))
		return nil
	}

	if err := store.DeleteTransitionsBefore(ctx, cutoff); err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Msg("audit log pruned")
	return nil
}
