package normalizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/cspellhq/hivenode/internal/models"
)

// MessageStore owns one attempt's indexed conversation: the append-or-replace
// sequence of NormalizedEntry values, persisted to normalized_entries and
// broadcast to subscribers over a bounded channel. Slow subscribers drop
// frames; the persisted rows are the canonical truth a reconnecting
// subscriber replays.
type MessageStore struct {
	db        *sql.DB
	attemptID string

	mu   sync.Mutex
	subs map[chan models.JSONPatch]struct{}
}

// NewMessageStore binds a MessageStore to attemptID.
func NewMessageStore(db *sql.DB, attemptID string) *MessageStore {
	return &MessageStore{
		db:        db,
		attemptID: attemptID,
		subs:      make(map[chan models.JSONPatch]struct{}),
	}
}

// Subscribe returns a bounded channel of future patches. Unsubscribe closes
// it; closing the client-side just stops draining, it does not affect other
// subscribers.
func (m *MessageStore) Subscribe() (ch chan models.JSONPatch, unsubscribe func()) {
	ch = make(chan models.JSONPatch, 64)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

// ApplyPatch persists patch and fans it out to current subscribers,
// satisfying the PatchSink interface. Remove operations clear entry_json but
// keep the row so index allocation remains monotonic and gap-free from the
// provider's perspective.
func (m *MessageStore) ApplyPatch(patch models.JSONPatch) {
	ctx := context.Background()
	now := time.Now().Unix()

	var entryJSON []byte
	if patch.Op != models.PatchRemove && patch.Entry != nil {
		raw, err := json.Marshal(patch.Entry)
		if err == nil {
			entryJSON = raw
		}
	}

	// Envelope the op alongside the entry so a replayed row round-trips the
	// full patch, not just its payload.
	envelope, err := sjson.SetBytes([]byte(`{}`), "op", string(patch.Op))
	if err == nil {
		if len(entryJSON) > 0 {
			envelope, _ = sjson.SetRawBytes(envelope, "entry", entryJSON)
		}
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO normalized_entries (attempt_id, entry_index, entry_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(attempt_id, entry_index) DO UPDATE SET entry_json = excluded.entry_json, updated_at = excluded.updated_at`,
		m.attemptID, patch.Index, string(envelope), now,
	)
	if err != nil {
		// Persistence failures never propagate into the log pipeline; the
		// in-memory fanout still happens so a live subscriber isn't starved.
		fmt.Printf("normalizer: failed to persist patch: %v\n", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- patch:
		default:
			// Backpressure: drop the frame, the subscriber replays from storage.
		}
	}
}

// RecordSessionID is a no-op at the MessageStore layer; session ids are
// persisted by the process supervisor via executor_sessions. Drivers call
// both sinks through a composite in practice.
func (m *MessageStore) RecordSessionID(string) {}

// RecordLine is a no-op at the MessageStore layer. Raw lines are not written
// to log_entries here, nor by the process supervisor's line handler.
func (m *MessageStore) RecordLine(string, string) {}

// Replay loads the full persisted conversation in index order, for a
// reconnecting subscriber or initial page render.
func (m *MessageStore) Replay(ctx context.Context) ([]models.JSONPatch, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT entry_index, entry_json FROM normalized_entries
		WHERE attempt_id = ? ORDER BY entry_index ASC`, m.attemptID)
	if err != nil {
		return nil, fmt.Errorf("replay conversation: %w", err)
	}
	defer rows.Close()

	var out []models.JSONPatch
	for rows.Next() {
		var idx int
		var raw string
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, err
		}
		var envelope struct {
			Op    models.PatchOp         `json:"op"`
			Entry *models.NormalizedEntry `json:"entry"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			continue
		}
		out = append(out, models.JSONPatch{Op: envelope.Op, Index: idx, Entry: envelope.Entry})
	}
	return out, rows.Err()
}

// Registry memoizes one MessageStore per attempt id, so the process
// supervisor's writer and an SSE handler's reader share the same in-memory
// fanout instead of each holding an independent, empty subs map.
type Registry struct {
	db *sql.DB

	mu     sync.Mutex
	stores map[string]*MessageStore
}

// NewRegistry wraps db for lazy per-attempt MessageStore construction.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, stores: make(map[string]*MessageStore)}
}

// For returns the shared MessageStore for attemptID, creating it on first
// use.
func (r *Registry) For(attemptID string) *MessageStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.stores[attemptID]; ok {
		return m
	}
	m := NewMessageStore(r.db, attemptID)
	r.stores[attemptID] = m
	return m
}
