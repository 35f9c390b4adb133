package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertGuardStateSQL = `INSERT INTO guard_states (
        bot_id,
        guard,
        state,
        updated_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (bot_id, guard) DO UPDATE
    SET
        state      = EXCLUDED.state,
        updated_at = EXCLUDED.updated_at;`

	listGuardStatesSQL = `SELECT
        bot_id,
        guard,
        state,
        updated_at
    FROM guard_states
    ORDER BY bot_id, guard;`

	insertTransitionSQL = `INSERT INTO state_transitions (
        bot_id,
        old_state,
        new_state,
        reason,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, bot_id, old_state, new_state, reason, occurred_at, created_at;`

	listRecentTransitionsSQL = `SELECT
        id,
        bot_id,
        old_state,
        new_state,
        reason,
        occurred_at,
        created_at
    FROM state_transitions
    ORDER BY occurred_at DESC
    LIMIT $1;`

	listTransitionsBetweenSQL = `SELECT
        id,
        bot_id,
        old_state,
        new_state,
        reason,
        occurred_at,
        created_at
    FROM state_transitions
    WHERE occurred_at >= $1
      AND occurred_at < $2
    ORDER BY occurred_at;`

	deleteTransitionsBeforeSQL = `DELETE FROM state_transitions WHERE occurred_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// GuardStateStore defines operations for guard-state persistence.
type GuardStateStore interface {
	UpsertGuardState(ctx context.Context, rec GuardStateRecord) error
	ListGuardStates(ctx context.Context) ([]GuardStateRecord, error)
}

// TransitionStore defines operations for the permission-transition audit log.
type TransitionStore interface {
	InsertTransition(ctx context.Context, rec TransitionRecord) (TransitionRecord, error)
	ListRecentTransitions(ctx context.Context, limit int) ([]TransitionRecord, error)
	ListTransitionsBetween(ctx context.Context, from, to time.Time) ([]TransitionRecord, error)
	DeleteTransitionsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers for single-writer deployments.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to guard states and the transition audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertGuardState persists or updates one guard's serialized state.
func (s *Store) UpsertGuardState(ctx context.Context, rec GuardStateRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, upsertGuardStateSQL,
		rec.BotID,
		rec.Guard,
		[]byte(rec.State),
		updatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert guard state: %w", execErr)
	}
	return nil
}

// ListGuardStates loads every persisted guard state, used to rebuild deadlines
// and windows at startup.
func (s *Store) ListGuardStates(ctx context.Context) ([]GuardStateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listGuardStatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list guard states: %w", queryErr)
	}
	defer rows.Close()

	records := make([]GuardStateRecord, 0)
	for rows.Next() {
		var rec GuardStateRecord
		if err := rows.Scan(&rec.BotID, &rec.Guard, &rec.State, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertTransition appends one permission transition to the audit log.
func (s *Store) InsertTransition(ctx context.Context, rec TransitionRecord) (TransitionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return TransitionRecord{}, err
	}

	row := pool.QueryRow(ctx, insertTransitionSQL,
		rec.BotID,
		rec.OldState,
		rec.NewState,
		rec.Reason,
		rec.At,
	)

	var out TransitionRecord
	if scanErr := row.Scan(
		&out.ID,
		&out.BotID,
		&out.OldState,
		&out.NewState,
		&out.Reason,
		&out.At,
		&out.CreatedAt,
	); scanErr != nil {
		return TransitionRecord{}, fmt.Errorf("insert transition: %w", scanErr)
	}
	return out, nil
}

// ListRecentTransitions lists the most recent audit entries.
func (s *Store) ListRecentTransitions(ctx context.Context, limit int) ([]TransitionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTransitionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent transitions: %w", queryErr)
	}
	defer rows.Close()

	return scanTransitions(rows, limit)
}

// ListTransitionsBetween lists audit entries within a time window.
func (s *Store) ListTransitionsBetween(ctx context.Context, from, to time.Time) ([]TransitionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTransitionsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list transitions between: %w", queryErr)
	}
	defer rows.Close()

	return scanTransitions(rows, 0)
}

// DeleteTransitionsBefore prunes historical audit entries.
func (s *Store) DeleteTransitionsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTransitionsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete transitions before: %w", execErr)
	}
	return nil
}

func scanTransitions(rows pgx.Rows, hint int) ([]TransitionRecord, error) {
	records := make([]TransitionRecord, 0, hint)
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.BotID,
			&rec.OldState,
			&rec.NewState,
			&rec.Reason,
			&rec.At,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
