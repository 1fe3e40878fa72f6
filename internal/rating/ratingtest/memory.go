// Package ratingtest provides in-memory rating stores that reproduce the
// stored shapes of the real adapters.
package ratingtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

// MemoryStore is a rating store held in memory. Relational stores hand out
// int64 ids and return score as int16, document stores hand out ObjectIDs and
// return primitive.DateTime timestamps, matching what pgx and the mongo
// driver decode.
type MemoryStore struct {
	origin domain.Origin
	loc    *time.Location

	mu      sync.Mutex
	records []domain.RawRecord
	nextID  int64
	failErr error
	calls   map[string]int
	now     func() time.Time
}

// NewRelational returns an empty relational-shaped store.
func NewRelational() *MemoryStore {
	return newMemoryStore(domain.OriginRelational)
}

// NewDocument returns an empty document-shaped store.
func NewDocument() *MemoryStore {
	return newMemoryStore(domain.OriginDocument)
}

func newMemoryStore(origin domain.Origin) *MemoryStore {
	return &MemoryStore{
		origin: origin,
		loc:    time.UTC,
		calls:  make(map[string]int),
		now:    time.Now,
	}
}

func (m *MemoryStore) Origin() domain.Origin {
	return m.origin
}

// Fail makes every subsequent call return err. Fail(nil) clears it.
func (m *MemoryStore) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SetNow fixes the clock used for new records.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Seed appends raw records as stored, without any shaping.
func (m *MemoryStore) Seed(raws ...domain.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, raws...)
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryStore) enter(op string) error {
	m.calls[op]++
	return m.failErr
}

func (m *MemoryStore) Insert(ctx context.Context, in domain.NewRating) (domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("insert"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Score < domain.MinScore || in.Score > domain.MaxScore {
		return nil, fmt.Errorf("score %d: %w", in.Score, domain.ErrRejected)
	}

	now := m.now()
	var raw domain.RawRecord
	switch m.origin {
	case domain.OriginRelational:
		m.nextID++
		var comment any
		if in.Comment != "" {
			comment = in.Comment
		}
		raw = domain.RawRecord{
			"id":         m.nextID,
			"name":       in.Name,
			"comment":    comment,
			"score":      int16(in.Score),
			"created_at": now,
		}
	default:
		raw = domain.RawRecord{
			"_id":                    primitive.NewObjectID(),
			"nombre":                 in.Name,
			"comentario":             in.Comment,
			"calificacion":           int32(in.Score),
			"fecha_creacion":         primitive.NewDateTimeFromTime(now),
			"fecha_creacion_display": now.In(m.loc).Format(domain.DisplayLayout),
		}
	}
	m.records = append(m.records, raw)
	return copyRecord(raw), nil
}

// QueryAll returns records in insertion order reversed, the way both real
// adapters order by creation time descending.
func (m *MemoryStore) QueryAll(ctx context.Context) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("query_all"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.RawRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, copyRecord(m.records[i]))
	}
	return out, nil
}

func (m *MemoryStore) QueryByKey(ctx context.Context, key string) (domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("query_by_key"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var match func(domain.RawRecord) bool
	switch m.origin {
	case domain.OriginRelational:
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("key %q: %w", key, domain.ErrInvalidKey)
		}
		match = func(r domain.RawRecord) bool { return r["id"] == id }
	default:
		if key == "" {
			return nil, fmt.Errorf("empty key: %w", domain.ErrInvalidKey)
		}
		if oid, err := primitive.ObjectIDFromHex(key); err == nil {
			match = func(r domain.RawRecord) bool { return r["_id"] == oid }
		} else {
			match = func(r domain.RawRecord) bool { return r["_id"] == key }
		}
	}

	for _, r := range m.records {
		if match(r) {
			return copyRecord(r), nil
		}
	}
	return nil, fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
}

func copyRecord(r domain.RawRecord) domain.RawRecord {
	out := make(domain.RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
