package domain

import (
	"fmt"
	"strings"
	"time"
)

// DisplayLayout is the wall-clock format used for display timestamps. Values
// in this layout carry no zone.
const DisplayLayout = "2006-01-02 15:04:05"

// Score bounds accepted at write time.
const (
	MinScore = 1
	MaxScore = 5
)

// Origin identifies the backend that accepted and owns a rating.
type Origin string

const (
	OriginRelational Origin = "relational"
	OriginDocument   Origin = "document"
)

// Origins lists every backend in probe order.
var Origins = []Origin{OriginRelational, OriginDocument}

// Valid reports whether o names a known backend.
func (o Origin) Valid() bool {
	return o == OriginRelational || o == OriginDocument
}

// ParseOrigin accepts the canonical names plus the historical aliases used by
// intake forms ("sqlite", "mongodb").
func ParseOrigin(raw string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "relational", "sql", "sqlite", "postgres":
		return OriginRelational, nil
	case "document", "mongo", "mongodb":
		return OriginDocument, nil
	default:
		return "", fmt.Errorf("unknown store %q", raw)
	}
}

// Rating is the canonical, normalized rating record.
// ID is unique only within Origin.
type Rating struct {
	ID        string
	Name      string
	Comment   string
	Score     int
	CreatedAt time.Time
	Origin    Origin
}

// Key returns the origin-qualified identity of the rating.
func (r Rating) Key() string {
	return string(r.Origin) + ":" + r.ID
}

// NewRating carries the caller-supplied fields of a rating about to be stored.
type NewRating struct {
	Name    string
	Comment string
	Score   int
}

// RawRecord is a stored rating as returned by an adapter, keyed by the
// backend's own field names.
type RawRecord map[string]any

// RatingStats summarises a set of ratings. Score 0 marks a missing or invalid
// score and is excluded from Average and the buckets.
type RatingStats struct {
	Count   int     `json:"count"`
	Scored  int     `json:"scored"`
	Average float64 `json:"average"`
	Buckets [5]int  `json:"buckets"`
	Low     int     `json:"low"`
	Three   int     `json:"three"`
	Four    int     `json:"four"`
	Five    int     `json:"five"`
}

// Bucket returns the number of ratings with the given score, 0 for scores
// outside 1..5.
func (s RatingStats) Bucket(score int) int {
	if score < 1 || score > 5 {
		return 0
	}
	return s.Buckets[score-1]
}

// RatingReport holds overall statistics plus a breakdown per origin.
type RatingReport struct {
	Overall  RatingStats            `json:"overall"`
	ByOrigin map[Origin]RatingStats `json:"byOrigin"`
}
