package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

func ratingsWithScores(origin domain.Origin, scores ...int) []domain.Rating {
	out := make([]domain.Rating, 0, len(scores))
	for _, s := range scores {
		out = append(out, domain.Rating{Score: s, Origin: origin})
	}
	return out
}

func TestAggregate_Distribution(t *testing.T) {
	report := Aggregate(ratingsWithScores(domain.OriginRelational, 5, 5, 4, 3, 1))

	overall := report.Overall
	assert.Equal(t, 5, overall.Count)
	assert.Equal(t, 5, overall.Scored)
	assert.InDelta(t, 3.60, overall.Average, 1e-9)
	assert.Equal(t, 2, overall.Five)
	assert.Equal(t, 1, overall.Four)
	assert.Equal(t, 1, overall.Three)
	assert.Equal(t, 1, overall.Low)
	assert.Equal(t, [5]int{1, 0, 1, 1, 2}, overall.Buckets)
}

func TestAggregate_Empty(t *testing.T) {
	report := Aggregate(nil)

	assert.Equal(t, domain.RatingStats{}, report.Overall)
	for _, origin := range domain.Origins {
		stats, ok := report.ByOrigin[origin]
		assert.True(t, ok, "origin %s missing", origin)
		assert.Equal(t, domain.RatingStats{}, stats)
	}
}

func TestAggregate_ZeroScoreCountedButNotAveraged(t *testing.T) {
	report := Aggregate(ratingsWithScores(domain.OriginDocument, 4, 0, 2))

	assert.Equal(t, 3, report.Overall.Count)
	assert.Equal(t, 2, report.Overall.Scored)
	assert.InDelta(t, 3.0, report.Overall.Average, 1e-9)
	assert.Equal(t, 1, report.Overall.Low)
}

func TestAggregate_ByOrigin(t *testing.T) {
	ratings := append(
		ratingsWithScores(domain.OriginRelational, 5, 4),
		ratingsWithScores(domain.OriginDocument, 1, 2, 2)...,
	)
	report := Aggregate(ratings)

	rel := report.ByOrigin[domain.OriginRelational]
	doc := report.ByOrigin[domain.OriginDocument]
	assert.Equal(t, 2, rel.Count)
	assert.InDelta(t, 4.5, rel.Average, 1e-9)
	assert.Equal(t, 3, doc.Count)
	assert.InDelta(t, 1.67, doc.Average, 1e-9)
	assert.Equal(t, 5, report.Overall.Count)
	assert.InDelta(t, 2.8, report.Overall.Average, 1e-9)
}

func TestStatsBucketCountsSumToScored(t *testing.T) {
	report := Aggregate(ratingsWithScores(domain.OriginRelational, 1, 2, 3, 4, 5, 5, 0, 9))
	s := report.Overall

	sum := 0
	for score := domain.MinScore; score <= domain.MaxScore; score++ {
		sum += s.Bucket(score)
	}
	assert.Equal(t, s.Scored, sum)
	assert.Equal(t, s.Scored, s.Low+s.Three+s.Four+s.Five)
	assert.Equal(t, 0, s.Bucket(0))
	assert.Equal(t, 0, s.Bucket(6))
}

func TestRoundTo2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{3.6, 3.6},
		{5.0 / 3.0, 1.67},
		{4.0 / 3.0, 1.33},
		{0, 0},
	}
	for _, tt := range tests {
		if got := roundTo2(tt.in); got != tt.want {
			t.Fatalf("roundTo2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
