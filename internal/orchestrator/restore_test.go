package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-guardian/internal/event"
	"trade-guardian/internal/guard"
	"trade-guardian/internal/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]storage.GuardStateRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]storage.GuardStateRecord)}
}

func (m *memoryStore) UpsertGuardState(ctx context.Context, rec storage.GuardStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.BotID+"/"+rec.Guard] = rec
	return nil
}

func (m *memoryStore) ListGuardStates(ctx context.Context) ([]storage.GuardStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.GuardStateRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func TestRestoreReproducesSuspension(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemoryStore()

	first := newTestOrchestrator(base)
	first.SetStore(store)
	go first.Run(ctx)

	first.Process(event.Event{Type: event.TypeEquitySnapshot, Timestamp: base, BotID: "main", Equity: decimal.NewFromInt(1000000)})
	first.Process(event.Event{
		Type:        event.TypeEquitySnapshot,
		Timestamp:   base.Add(time.Hour),
		BotID:       "main",
		Equity:      decimal.NewFromInt(980000),
		RealizedPnL: decimal.NewFromInt(-20000),
	})

	// Wait for the write-behind queue to land.
	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		_, ok := store.records["main/killswitch"]
		store.mu.Unlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("guard 状态应被持久化")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A fresh process restarted one hour later.
	second := newTestOrchestrator(base.Add(2 * time.Hour))
	second.SetStore(store)
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}

	state, ok := second.PermissionFor("main")
	if !ok {
		t.Fatal("main 应有权限状态")
	}
	if state.Severity != guard.SeveritySuspend {
		t.Fatalf("重启后应保持 Suspend, 实际 %s", state.Severity)
	}
	if state.Until == nil || !state.Until.Equal(base.Add(25*time.Hour)) {
		t.Fatalf("暂停截止时间应原样恢复: %v", state.Until)
	}
}
