package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"trade-guardian/internal/alerting"
	"trade-guardian/internal/event"
	"trade-guardian/internal/orchestrator"
)

// SimulateEvent 将一条合成事件注入全新的守护编排器并打印各机器人权限结果。
// 真实环境配置了 Telegram 时会同步推送转换告警，便于端到端验证通道。
func (a *App) SimulateEvent(ctx context.Context, raw []byte) error {
	ev, err := event.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	orch := orchestrator.New(a.orchestratorOptions(), a.Logger)

	if a.Config.Alerting.Enabled {
		if notifier := a.newNotifier(); notifier != nil {
			orch.SetSink(&syncSink{ctx: ctx, notifier: notifier, app: a})
		}
	}

	orch.Process(ev)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bot\tState\tMode\tAllowed\tReason\tUntil")
	for _, state := range orch.States() {
		until := "-"
		if state.Until != nil {
			until = state.Until.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\t%s\t%s\n",
			state.BotID,
			state.Label(),
			state.Mode,
			state.Allowed,
			sanitizeInline(state.Reason),
			until,
		)
	}
	return writer.Flush()
}

// syncSink delivers transition alerts inline instead of through the
// write-behind dispatcher; simulation exits before a queue would drain.
type syncSink struct {
	ctx      context.Context
	notifier alerting.Notifier
	app      *App
}

func (s *syncSink) Enqueue(n alerting.Notification) {
	if err := s.notifier.Notify(s.ctx, n); err != nil {
		s.app.Logger.Error().Err(err).Msg("simulated notification failed")
	}
}

var _ orchestrator.TransitionSink = (*syncSink)(nil)
