package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/banshee-data/scenecapture/internal/progress"
)

// ErrUnknownToken is returned when a row referenced by token does not exist.
var ErrUnknownToken = errors.New("unknown token")

// Row is one persisted dataset record.
type Row struct {
	Kind  Kind
	Token string
	// SceneToken is the owning scene for scene-scoped kinds and empty otherwise.
	SceneToken string
	Body       json.RawMessage
}

// Store is the persistence collaborator behind a Builder.
type Store interface {
	LoadProgress(ctx context.Context) (progress.Cursor, error)
	Lookup(ctx context.Context, kind Kind, token string) (Row, bool, error)
	// Commit atomically deletes every row owned by replaceScenes, upserts rows
	// and saves cursor. Either all of it becomes durable or none of it does.
	Commit(ctx context.Context, cursor progress.Cursor, replaceScenes []string, rows []Row) error
}

// Reader lists persisted rows for verification, export and reporting.
type Reader interface {
	Rows(ctx context.Context, kind Kind) ([]Row, error)
}

type rowKey struct {
	kind  Kind
	token string
}

// MemoryStore is an in-process Store and Reader.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[rowKey]Row
	cursor  progress.Cursor
	commits int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[rowKey]Row)}
}

func (m *MemoryStore) LoadProgress(ctx context.Context) (progress.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *MemoryStore) Lookup(ctx context.Context, kind Kind, token string) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[rowKey{kind, token}]
	return r, ok, nil
}

func (m *MemoryStore) Commit(ctx context.Context, cursor progress.Cursor, replaceScenes []string, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(replaceScenes) > 0 {
		drop := make(map[string]bool, len(replaceScenes))
		for _, s := range replaceScenes {
			drop[s] = true
		}
		for k, r := range m.rows {
			if r.SceneToken != "" && drop[r.SceneToken] {
				delete(m.rows, k)
			}
		}
	}
	for _, r := range rows {
		m.rows[rowKey{r.Kind, r.Token}] = r
	}
	m.cursor = cursor
	m.commits++
	return nil
}

// Rows returns every row of kind ordered by token.
func (m *MemoryStore) Rows(ctx context.Context, kind Kind) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for k, r := range m.rows {
		if k.kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// Commits returns how many commits have succeeded.
func (m *MemoryStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Decode unmarshals the bodies of rows into a slice of T.
func Decode[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Body, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadAll reads and decodes every row of kind from r.
func ReadAll[T any](ctx context.Context, r Reader, kind Kind) ([]T, error) {
	rows, err := r.Rows(ctx, kind)
	if err != nil {
		return nil, err
	}
	return Decode[T](rows)
}
