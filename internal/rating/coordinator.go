// Package rating is the dual-store rating core: it routes writes to exactly
// one store, merges reads from both, and computes statistics over the result.
package rating

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
	"github.com/Clark-Hu/triage-ratings/internal/metrics"
)

// Store is the capability set every backend adapter provides.
type Store interface {
	Origin() domain.Origin
	Insert(ctx context.Context, in domain.NewRating) (domain.RawRecord, error)
	QueryAll(ctx context.Context) ([]domain.RawRecord, error)
	QueryByKey(ctx context.Context, key string) (domain.RawRecord, error)
}

// Options configures a Coordinator.
type Options struct {
	// DefaultTarget receives writes that name no target. Empty means
	// relational.
	DefaultTarget domain.Origin
	Normalizer    *Normalizer
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// Coordinator owns one adapter per origin.
type Coordinator struct {
	stores        map[domain.Origin]Store
	defaultTarget domain.Origin
	normalizer    *Normalizer
	metrics       *metrics.Collector
	logger        *zap.Logger
}

// Listing is the merged result of one ListAll call. Failures holds the
// sources that contributed nothing because they failed. Ratings is built
// fresh by every call, which re-queries the stores, and belongs to the
// caller.
type Listing struct {
	Ratings  []domain.Rating
	Failures map[domain.Origin]*domain.Failure
}

// Partial reports whether any source is missing from the listing.
func (l Listing) Partial() bool {
	return len(l.Failures) > 0
}

// Report aggregates the listed ratings.
func (l Listing) Report() domain.RatingReport {
	return Aggregate(l.Ratings)
}

// NewCoordinator requires exactly one store per known origin.
func NewCoordinator(opts Options, stores ...Store) (*Coordinator, error) {
	byOrigin := make(map[domain.Origin]Store, len(stores))
	for _, st := range stores {
		if st == nil {
			return nil, fmt.Errorf("rating: nil store")
		}
		origin := st.Origin()
		if !origin.Valid() {
			return nil, fmt.Errorf("rating: store reports unknown origin %q", origin)
		}
		if _, dup := byOrigin[origin]; dup {
			return nil, fmt.Errorf("rating: duplicate store for origin %s", origin)
		}
		byOrigin[origin] = st
	}
	for _, origin := range domain.Origins {
		if _, ok := byOrigin[origin]; !ok {
			return nil, fmt.Errorf("rating: missing store for origin %s", origin)
		}
	}

	target := opts.DefaultTarget
	if target == "" {
		target = domain.OriginRelational
	}
	if !target.Valid() {
		return nil, fmt.Errorf("rating: unknown default target %q", target)
	}

	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(nil, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		stores:        byOrigin,
		defaultTarget: target,
		normalizer:    normalizer,
		metrics:       opts.Metrics,
		logger:        logger.Named("ratings"),
	}, nil
}

// DefaultTarget returns the configured write target.
func (c *Coordinator) DefaultTarget() domain.Origin {
	return c.defaultTarget
}

// Submit validates sub and stores it in exactly one store: target when set,
// else the target scoped to ctx, else the configured default. A store failure
// is returned as is; there is no retry and no fallback to the other store.
func (c *Coordinator) Submit(ctx context.Context, sub Submission, target domain.Origin) (domain.Rating, error) {
	sub = sub.Clean()
	if err := Validate(sub); err != nil {
		return domain.Rating{}, err
	}

	origin, err := c.resolveTarget(ctx, target)
	if err != nil {
		return domain.Rating{}, err
	}

	start := time.Now()
	raw, err := c.stores[origin].Insert(ctx, domain.NewRating{
		Name:    sub.Name,
		Comment: sub.Comment,
		Score:   sub.Score,
	})
	if err != nil {
		failure := c.fail(origin, "insert", err, start)
		return domain.Rating{}, failure
	}
	c.observe(origin, "insert", nil, start)
	c.metrics.RatingSubmitted(string(origin))

	stored := c.normalizer.Normalize(raw, origin)
	c.logger.Info("rating submitted",
		zap.String("origin", string(origin)),
		zap.String("id", stored.ID),
		zap.Int("score", stored.Score),
	)
	return stored, nil
}

func (c *Coordinator) resolveTarget(ctx context.Context, explicit domain.Origin) (domain.Origin, error) {
	if explicit != "" {
		if !explicit.Valid() {
			return "", domain.NewFailure(domain.KindValidation, "submit", "unknown store").
				WithField("store", fmt.Sprintf("%q is not a known store", explicit))
		}
		return explicit, nil
	}
	if scoped, ok := DefaultTarget(ctx); ok {
		return scoped, nil
	}
	return c.defaultTarget, nil
}

// ListAll queries every store concurrently and merges the results newest
// first. A failing store is logged and contributes no ratings; it never fails
// the call. Ratings with equal created_at keep store order (relational
// first) and their store's own order. Each call re-queries both stores.
func (c *Coordinator) ListAll(ctx context.Context) Listing {
	results := make([][]domain.Rating, len(domain.Origins))
	failures := make([]*domain.Failure, len(domain.Origins))

	var g errgroup.Group
	for i, origin := range domain.Origins {
		i, origin := i, origin
		g.Go(func() error {
			ratings, err := c.queryAll(ctx, origin)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = ratings
			return nil
		})
	}
	_ = g.Wait()

	listing := Listing{Failures: make(map[domain.Origin]*domain.Failure)}
	total := 0
	for _, part := range results {
		total += len(part)
	}
	listing.Ratings = make([]domain.Rating, 0, total)
	for i, origin := range domain.Origins {
		if failures[i] != nil {
			listing.Failures[origin] = failures[i]
			c.metrics.PartialListing(string(origin))
			c.logger.Warn("source omitted from listing",
				zap.String("origin", string(origin)),
				zap.String("kind", string(failures[i].Kind)),
				zap.Error(failures[i].Cause),
			)
			continue
		}
		listing.Ratings = append(listing.Ratings, results[i]...)
	}
	sortNewestFirst(listing.Ratings)
	return listing
}

// ListFrom returns the ratings of a single store, newest first. Unlike
// ListAll, the store's failure is returned to the caller.
func (c *Coordinator) ListFrom(ctx context.Context, origin domain.Origin) ([]domain.Rating, error) {
	if !origin.Valid() {
		return nil, domain.NewFailure(domain.KindValidation, "list", "unknown store").
			WithField("store", fmt.Sprintf("%q is not a known store", origin))
	}
	ratings, failure := c.queryAll(ctx, origin)
	if failure != nil {
		return nil, failure
	}
	sortNewestFirst(ratings)
	return ratings, nil
}

func (c *Coordinator) queryAll(ctx context.Context, origin domain.Origin) ([]domain.Rating, *domain.Failure) {
	start := time.Now()
	raws, err := c.stores[origin].QueryAll(ctx)
	if err != nil {
		return nil, c.fail(origin, "query_all", err, start)
	}
	c.observe(origin, "query_all", nil, start)
	return c.normalizer.NormalizeAll(raws, origin), nil
}

// Get resolves an identity that carries no origin by probing the stores in
// order: relational (integer key) first, then document. If the identity is
// valid in both stores the relational record wins. When no store has it but
// one could not be asked, that store's failure is returned instead of
// NOT_FOUND.
func (c *Coordinator) Get(ctx context.Context, identity string) (domain.Rating, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Rating{}, domain.NewFailure(domain.KindValidation, "get", "identity is required").
			WithField("id", "is required")
	}

	var unresolved *domain.Failure
	for _, origin := range domain.Origins {
		r, err := c.lookup(ctx, origin, identity)
		if err == nil {
			return r, nil
		}
		if err.Kind == domain.KindNotFound {
			continue
		}
		c.logger.Warn("lookup probe failed",
			zap.String("origin", string(origin)),
			zap.String("id", identity),
			zap.Error(err),
		)
		if unresolved == nil {
			unresolved = err
		}
	}
	if unresolved != nil {
		return domain.Rating{}, unresolved
	}
	return domain.Rating{}, domain.NewFailure(domain.KindNotFound, "get",
		fmt.Sprintf("rating %q not found in any store", identity))
}

// GetFrom looks identity up in the named store only.
func (c *Coordinator) GetFrom(ctx context.Context, origin domain.Origin, identity string) (domain.Rating, error) {
	if !origin.Valid() {
		return domain.Rating{}, domain.NewFailure(domain.KindValidation, "get", "unknown store").
			WithField("store", fmt.Sprintf("%q is not a known store", origin))
	}
	r, err := c.lookup(ctx, origin, strings.TrimSpace(identity))
	if err != nil {
		return domain.Rating{}, err
	}
	return r, nil
}

func (c *Coordinator) lookup(ctx context.Context, origin domain.Origin, identity string) (domain.Rating, *domain.Failure) {
	start := time.Now()
	raw, err := c.stores[origin].QueryByKey(ctx, identity)
	if err != nil {
		return domain.Rating{}, c.fail(origin, "query_by_key", err, start)
	}
	c.observe(origin, "query_by_key", nil, start)
	return c.normalizer.Normalize(raw, origin), nil
}

// Similar returns up to limit other ratings with the same score as r, newest
// first, drawn from the merged listing.
func (c *Coordinator) Similar(ctx context.Context, r domain.Rating, limit int) []domain.Rating {
	if limit <= 0 || r.Score == 0 {
		return nil
	}
	var out []domain.Rating
	for _, candidate := range c.ListAll(ctx).Ratings {
		if candidate.Score != r.Score || candidate.Key() == r.Key() {
			continue
		}
		out = append(out, candidate)
		if len(out) == limit {
			break
		}
	}
	return out
}

// fail classifies err, records it, and logs internal faults in full.
func (c *Coordinator) fail(origin domain.Origin, op string, err error, start time.Time) *domain.Failure {
	failure := classify(origin, op, err)
	c.observe(origin, op, failure, start)
	if failure.Kind == domain.KindInternal {
		c.logger.Error("store operation failed",
			zap.String("origin", string(origin)),
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return failure
}

func (c *Coordinator) observe(origin domain.Origin, op string, failure *domain.Failure, start time.Time) {
	outcome := "ok"
	if failure != nil {
		outcome = strings.ToLower(string(failure.Kind))
	}
	c.metrics.ObserveStore(string(origin), op, outcome, time.Since(start))
}

func classify(origin domain.Origin, op string, err error) *domain.Failure {
	var existing *domain.Failure
	if errors.As(err, &existing) {
		return existing
	}

	var failure *domain.Failure
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidKey):
		failure = domain.NewFailure(domain.KindNotFound, op, "rating not found")
	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		failure = domain.NewFailure(domain.KindEnvironment, op, "store unavailable")
	case errors.Is(err, domain.ErrRejected):
		failure = domain.NewFailure(domain.KindValidation, op, "rating rejected by store")
	default:
		failure = domain.NewFailure(domain.KindInternal, op, "unexpected store failure")
	}
	return failure.WithOrigin(origin).WithCause(err)
}

func sortNewestFirst(ratings []domain.Rating) {
	sort.SliceStable(ratings, func(i, j int) bool {
		return ratings[i].CreatedAt.After(ratings[j].CreatedAt)
	})
}
