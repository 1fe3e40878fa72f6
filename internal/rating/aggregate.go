package rating

import (
	"math"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

type accumulator struct {
	count   int
	scored  int
	sum     int
	buckets [5]int
}

func (a *accumulator) add(score int) {
	a.count++
	if score < domain.MinScore || score > domain.MaxScore {
		return
	}
	a.scored++
	a.sum += score
	a.buckets[score-1]++
}

func (a *accumulator) stats() domain.RatingStats {
	s := domain.RatingStats{
		Count:   a.count,
		Scored:  a.scored,
		Buckets: a.buckets,
		Low:     a.buckets[0] + a.buckets[1],
		Three:   a.buckets[2],
		Four:    a.buckets[3],
		Five:    a.buckets[4],
	}
	if a.scored > 0 {
		s.Average = roundTo2(float64(a.sum) / float64(a.scored))
	}
	return s
}

// Aggregate computes overall and per-origin statistics. Every known origin
// appears in ByOrigin, zero-valued when it contributed nothing.
func Aggregate(ratings []domain.Rating) domain.RatingReport {
	var overall accumulator
	perOrigin := make(map[domain.Origin]*accumulator, len(domain.Origins))
	for _, origin := range domain.Origins {
		perOrigin[origin] = &accumulator{}
	}

	for _, r := range ratings {
		overall.add(r.Score)
		acc, ok := perOrigin[r.Origin]
		if !ok {
			acc = &accumulator{}
			perOrigin[r.Origin] = acc
		}
		acc.add(r.Score)
	}

	report := domain.RatingReport{
		Overall:  overall.stats(),
		ByOrigin: make(map[domain.Origin]domain.RatingStats, len(perOrigin)),
	}
	for origin, acc := range perOrigin {
		report.ByOrigin[origin] = acc.stats()
	}
	return report
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
