package storage

import (
	"encoding/json"
	"time"
)

// GuardStateRecord is the compact persisted form of one guard's in-memory
// state for one bot: enough to reconstruct `until` deadlines and recent
// window contents across a restart.
type GuardStateRecord struct {
	BotID     string
	Guard     string
	State     json.RawMessage
	UpdatedAt time.Time
}

// TransitionRecord captures one aggregate permission-state transition for
// auditing and alert de-duplication.
type TransitionRecord struct {
	ID        int64
	BotID     string
	OldState  string
	NewState  string
	Reason    string
	At        time.Time
	CreatedAt time.Time
}
