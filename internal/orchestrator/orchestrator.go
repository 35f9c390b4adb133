package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trade-guardian/internal/alerting"
	"trade-guardian/internal/event"
	"trade-guardian/internal/guard"
	"trade-guardian/internal/logging"
	"trade-guardian/internal/metrics"
	"trade-guardian/internal/storage"
)

// Guard names used for persistence keys and metrics labels.
const (
	GuardMode       = "mode"
	GuardKillSwitch = "killswitch"
	GuardLatency    = "latency"
	GuardSlippage   = "slippage"
)

// PermissionState is the aggregate trading permission for one bot: the
// conjunction of all active guard verdicts under the dominance ordering
// Suspend > Pause > Downgrade > Allow, plus the currently assigned mode.
// States are immutable snapshots; Version increases on every published change.
type PermissionState struct {
	BotID    string
	Mode     event.Mode
	Allowed  bool
	Severity guard.Severity
	Reason   string
	Until    *time.Time
	Version  uint64
}

// Label renders the state for audit records and alerts.
func (p PermissionState) Label() string {
	return p.Severity.String()
}

// TransitionSink receives permission transitions. Implementations must not
// block: a delayed KillSwitch decision is a safety risk, a delayed message is
// not.
type TransitionSink interface {
	Enqueue(alerting.Notification)
}

// Options wire the orchestrator's guard thresholds and collaborators.
type Options struct {
	Bots       map[string]guard.Priority
	Mode       guard.ModeGuardOptions
	KillSwitch guard.KillSwitchOptions
	Latency    guard.LatencyGuardOptions
	Slippage   guard.SlippageGuardOptions

	// PersistQueueSize bounds the write-behind guard-state queue.
	PersistQueueSize int
}

// botUnit bundles one bot's independently owned guards. Each guard owns its
// own window; no shared mutable counter crosses guard boundaries. The mutex
// serializes event ingestion and verdict computation for this bot only, so
// cross-bot processing proceeds in parallel.
type botUnit struct {
	mu       sync.Mutex
	mode     *guard.ModeGuard
	kill     *guard.KillSwitch
	latency  *guard.LatencyGuard
	slippage *guard.SlippageGuard
}

// Orchestrator fans telemetry events out to the guards, aggregates their
// verdicts into a per-bot permission state, and publishes that state as an
// atomically swapped snapshot readable without blocking recomputation.
type Orchestrator struct {
	bots     map[string]*botUnit
	priority *guard.PriorityGuard

	publishMu sync.Mutex
	snapshot  atomic.Value // map[string]PermissionState
	version   atomic.Uint64

	sink    TransitionSink
	store   storage.GuardStateStore
	audit   storage.TransitionStore
	persist chan []storage.GuardStateRecord
	auditQ  chan storage.TransitionRecord

	clock  func() time.Time
	logger zerolog.Logger
}

// New constructs an Orchestrator over the declared bots.
func New(opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.PersistQueueSize <= 0 {
		opts.PersistQueueSize = 256
	}

	bots := make(map[string]*botUnit, len(opts.Bots))
	for botID := range opts.Bots {
		bots[botID] = &botUnit{
			mode:     guard.NewModeGuard(opts.Mode),
			kill:     guard.NewKillSwitch(opts.KillSwitch),
			latency:  guard.NewLatencyGuard(opts.Latency),
			slippage: guard.NewSlippageGuard(opts.Slippage),
		}
	}

	o := &Orchestrator{
		bots:     bots,
		priority: guard.NewPriorityGuard(opts.Bots),
		persist:  make(chan []storage.GuardStateRecord, opts.PersistQueueSize),
		auditQ:   make(chan storage.TransitionRecord, opts.PersistQueueSize),
		clock:    time.Now,
		logger:   logging.Component(logger, "orchestrator"),
	}

	initial := make(map[string]PermissionState, len(bots))
	now := o.clock()
	for botID, unit := range bots {
		initial[botID] = o.computeLocked(botID, unit, now)
	}
	o.snapshot.Store(initial)
	return o
}

// SetClock overrides the wall clock, for deterministic evaluation in tests.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// SetSink attaches the transition notification sink.
func (o *Orchestrator) SetSink(sink TransitionSink) {
	o.sink = sink
}

// SetStore attaches guard-state persistence.
func (o *Orchestrator) SetStore(store storage.GuardStateStore) {
	o.store = store
}

// SetAudit attaches the transition audit log.
func (o *Orchestrator) SetAudit(audit storage.TransitionStore) {
	o.audit = audit
}

// Process routes one event to every guard whose input type matches and
// republishes the permission state of each affected bot. Events carrying an
// unknown bot id are transient input errors: logged, counted, discarded.
func (o *Orchestrator) Process(ev event.Event) {
	if err := ev.Validate(); err != nil {
		metrics.EventsDiscarded.Inc()
		o.logger.Warn().Err(err).Msg("discarding malformed event")
		return
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.Type == event.TypeBotActivity {
		if _, known := o.bots[ev.BotID]; !known {
			metrics.EventsDiscarded.Inc()
			o.logger.Warn().Str("bot", ev.BotID).Msg("activity from unknown bot discarded")
			return
		}
		o.priority.Observe(ev)
		// Preemption is cross-bot: every bot's aggregate may have changed.
		o.reevaluate(o.clock(), nil)
		return
	}

	targets := o.targetsFor(ev)
	if len(targets) == 0 {
		metrics.EventsDiscarded.Inc()
		o.logger.Warn().Str("bot", ev.BotID).Str("type", string(ev.Type)).Msg("event for unknown bot discarded")
		return
	}

	now := o.clock()
	for _, botID := range targets {
		unit := o.bots[botID]
		unit.mu.Lock()
		o.dispatchLocked(unit, ev)
		state := o.computeLocked(botID, unit, now)
		records := o.snapshotGuardsLocked(botID, unit, now)
		unit.mu.Unlock()

		o.publish(state)
		o.enqueuePersist(records)
	}
}

// Sweep re-evaluates every bot against the current clock with no new input,
// so lazily expiring deadlines (cooldowns, suspensions) are published without
// waiting for the next event.
func (o *Orchestrator) Sweep(now time.Time) {
	o.reevaluate(now, nil)
}

// PermissionFor returns the current aggregate permission for a bot. Reads hit
// an immutable snapshot and never contend with guard recomputation.
func (o *Orchestrator) PermissionFor(botID string) (PermissionState, bool) {
	snap := o.snapshot.Load().(map[string]PermissionState)
	state, ok := snap[botID]
	return state, ok
}

// States returns the full published snapshot.
func (o *Orchestrator) States() map[string]PermissionState {
	snap := o.snapshot.Load().(map[string]PermissionState)
	out := make(map[string]PermissionState, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// CPUWeights exposes the priority guard's informational scheduling hints.
func (o *Orchestrator) CPUWeights() map[string]int {
	return o.priority.CPUWeights()
}

// Run drains the write-behind persistence queue until ctx is cancelled.
// Persistence failure is a degraded-mode condition: the guards keep operating
// from memory, but a restart would lose deadline information.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case records := <-o.persist:
			o.writeRecords(ctx, records)
		case rec := <-o.auditQ:
			o.writeTransition(ctx, rec)
		}
	}
}

// Restore reloads persisted guard state so suspension deadlines and recent
// windows survive a process restart, then republishes every bot's state.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	records, err := o.store.ListGuardStates(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		unit, ok := o.bots[rec.BotID]
		if !ok {
			continue
		}
		unit.mu.Lock()
		var restoreErr error
		switch rec.Guard {
		case GuardMode:
			restoreErr = unit.mode.Restore(rec.State)
		case GuardKillSwitch:
			restoreErr = unit.kill.Restore(rec.State)
		case GuardLatency:
			restoreErr = unit.latency.Restore(rec.State)
		case GuardSlippage:
			restoreErr = unit.slippage.Restore(rec.State)
		}
		unit.mu.Unlock()
		if restoreErr != nil {
			o.logger.Warn().Err(restoreErr).Str("bot", rec.BotID).Str("guard", rec.Guard).Msg("skipping unreadable guard state")
		}
	}

	o.reevaluate(o.clock(), nil)
	return nil
}

func (o *Orchestrator) targetsFor(ev event.Event) []string {
	if ev.BotID != "" {
		if _, ok := o.bots[ev.BotID]; !ok {
			return nil
		}
		return []string{ev.BotID}
	}
	// Platform-wide telemetry fans out to every bot.
	targets := make([]string, 0, len(o.bots))
	for botID := range o.bots {
		targets = append(targets, botID)
	}
	return targets
}

func (o *Orchestrator) dispatchLocked(unit *botUnit, ev event.Event) {
	switch ev.Type {
	case event.TypeLatencySample:
		unit.latency.Observe(ev)
	case event.TypeModeTransition:
		unit.mode.Observe(ev)
	case event.TypeFill:
		unit.slippage.Observe(ev)
	case event.TypeEquitySnapshot:
		unit.kill.Observe(ev)
	}
}

// computeLocked aggregates all guard verdicts for one bot. Caller holds the
// bot's mutex.
func (o *Orchestrator) computeLocked(botID string, unit *botUnit, now time.Time) PermissionState {
	modeV := unit.mode.Verdict(now)
	killV := unit.kill.Verdict(now)
	latencyV := unit.latency.Verdict(now)
	slippageV := unit.slippage.Verdict(now)
	priorityV := o.priority.VerdictFor(botID)

	metrics.GuardStatus.WithLabelValues(botID, GuardMode).Set(triggered(modeV))
	metrics.GuardStatus.WithLabelValues(botID, GuardKillSwitch).Set(triggered(killV))
	metrics.GuardStatus.WithLabelValues(botID, GuardLatency).Set(triggered(latencyV))
	metrics.GuardStatus.WithLabelValues(botID, GuardSlippage).Set(triggered(slippageV))

	combined := guard.Combine(modeV, killV, latencyV, slippageV, priorityV)

	mode := unit.mode.CurrentMode()
	if combined.Severity == guard.SeverityDowngrade {
		mode = combined.Target
	}

	return PermissionState{
		BotID:    botID,
		Mode:     mode,
		Allowed:  combined.Severity <= guard.SeverityDowngrade,
		Severity: combined.Severity,
		Reason:   combined.Reason,
		Until:    combined.Until,
	}
}

// snapshotGuardsLocked serializes the bot's guard state for write-behind
// persistence. Caller holds the bot's mutex.
func (o *Orchestrator) snapshotGuardsLocked(botID string, unit *botUnit, now time.Time) []storage.GuardStateRecord {
	if o.store == nil {
		return nil
	}

	records := make([]storage.GuardStateRecord, 0, 4)
	snapshots := []struct {
		name string
		data func() ([]byte, error)
	}{
		{GuardMode, unit.mode.Snapshot},
		{GuardKillSwitch, unit.kill.Snapshot},
		{GuardLatency, unit.latency.Snapshot},
		{GuardSlippage, unit.slippage.Snapshot},
	}
	for _, snap := range snapshots {
		data, err := snap.data()
		if err != nil {
			o.logger.Warn().Err(err).Str("bot", botID).Str("guard", snap.name).Msg("guard snapshot failed")
			continue
		}
		records = append(records, storage.GuardStateRecord{
			BotID:     botID,
			Guard:     snap.name,
			State:     data,
			UpdatedAt: now,
		})
	}
	return records
}

// reevaluate recomputes permissions for the given bots (nil means all) without
// feeding new observations.
func (o *Orchestrator) reevaluate(now time.Time, botIDs []string) {
	if botIDs == nil {
		botIDs = make([]string, 0, len(o.bots))
		for botID := range o.bots {
			botIDs = append(botIDs, botID)
		}
	}
	for _, botID := range botIDs {
		unit := o.bots[botID]
		unit.mu.Lock()
		state := o.computeLocked(botID, unit, now)
		unit.mu.Unlock()
		o.publish(state)
	}
}

// publish swaps the copy-on-write snapshot and emits a transition when the
// bot's aggregate state actually changed. Readers never observe a torn state.
func (o *Orchestrator) publish(state PermissionState) {
	o.publishMu.Lock()
	old := o.snapshot.Load().(map[string]PermissionState)
	prev, existed := old[state.BotID]

	if existed && sameState(prev, state) {
		o.publishMu.Unlock()
		return
	}

	state.Version = o.version.Add(1)
	next := make(map[string]PermissionState, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[state.BotID] = state
	o.snapshot.Store(next)
	o.publishMu.Unlock()

	metrics.BotState.WithLabelValues(state.BotID).Set(float64(state.Severity))

	if !existed {
		return
	}

	o.logger.Info().
		Str("bot", state.BotID).
		Str("old_state", prev.Label()).
		Str("new_state", state.Label()).
		Str("reason", state.Reason).
		Msg("permission state transition")

	if o.sink != nil {
		o.sink.Enqueue(alerting.Notification{
			BotID:    state.BotID,
			OldState: prev.Label(),
			NewState: state.Label(),
			Reason:   state.Reason,
			At:       o.clock(),
		})
	}

	if o.audit != nil {
		rec := storage.TransitionRecord{
			BotID:    state.BotID,
			OldState: prev.Label(),
			NewState: state.Label(),
			Reason:   state.Reason,
			At:       o.clock(),
		}
		select {
		case o.auditQ <- rec:
		default:
			metrics.PersistFailures.Inc()
			o.logger.Warn().Msg("audit queue full, transition record skipped")
		}
	}
}

func (o *Orchestrator) enqueuePersist(records []storage.GuardStateRecord) {
	if o.store == nil || len(records) == 0 {
		return
	}
	select {
	case o.persist <- records:
	default:
		metrics.PersistFailures.Inc()
		o.logger.Warn().Msg("persist queue full, guard state write skipped")
	}
}

func (o *Orchestrator) writeRecords(ctx context.Context, records []storage.GuardStateRecord) {
	for _, rec := range records {
		if err := o.store.UpsertGuardState(ctx, rec); err != nil {
			metrics.PersistFailures.Inc()
			o.logger.Warn().Err(err).
				Str("bot", rec.BotID).
				Str("guard", rec.Guard).
				Msg("guard state persistence failed; restart would lose deadlines")
		}
	}
}

func (o *Orchestrator) writeTransition(ctx context.Context, rec storage.TransitionRecord) {
	if _, err := o.audit.InsertTransition(ctx, rec); err != nil {
		metrics.PersistFailures.Inc()
		o.logger.Warn().Err(err).Str("bot", rec.BotID).Msg("transition audit write failed")
	}
}

func sameState(a, b PermissionState) bool {
	if a.Severity != b.Severity || a.Reason != b.Reason || a.Mode != b.Mode || a.Allowed != b.Allowed {
		return false
	}
	switch {
	case a.Until == nil && b.Until == nil:
		return true
	case a.Until == nil || b.Until == nil:
		return false
	}
	return a.Until.Equal(*b.Until)
}

func triggered(v guard.Verdict) float64 {
	if v.Severity > guard.SeverityAllow {
		return 1
	}
	return 0
}
