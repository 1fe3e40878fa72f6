package rating_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Clark-Hu/triage-ratings/internal/docstore"
	"github.com/Clark-Hu/triage-ratings/internal/domain"
	"github.com/Clark-Hu/triage-ratings/internal/metrics"
	"github.com/Clark-Hu/triage-ratings/internal/rating"
	"github.com/Clark-Hu/triage-ratings/internal/rating/ratingtest"
)

var errDown = fmt.Errorf("connection refused: %w", domain.ErrUnavailable)

type fixture struct {
	coord   *rating.Coordinator
	rel     *ratingtest.MemoryStore
	doc     *ratingtest.MemoryStore
	metrics *metrics.Collector
}

func newFixture(t *testing.T, defaultTarget domain.Origin) *fixture {
	t.Helper()
	f := &fixture{
		rel:     ratingtest.NewRelational(),
		doc:     ratingtest.NewDocument(),
		metrics: metrics.NewCollector("test"),
	}
	coord, err := rating.NewCoordinator(rating.Options{
		DefaultTarget: defaultTarget,
		Normalizer:    rating.NewNormalizer(time.UTC, nil),
		Metrics:       f.metrics,
	}, f.rel, f.doc)
	require.NoError(t, err)
	f.coord = coord
	return f
}

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func submit(t *testing.T, c *rating.Coordinator, name string, score int, target domain.Origin) domain.Rating {
	t.Helper()
	r, err := c.Submit(context.Background(), rating.Submission{Name: name, Score: score}, target)
	require.NoError(t, err)
	return r
}

func requireKind(t *testing.T, err error, kind domain.Kind) *domain.Failure {
	t.Helper()
	require.Error(t, err)
	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, kind, failure.Kind, "error: %v", err)
	return failure
}

func TestNewCoordinator_RequiresOneStorePerOrigin(t *testing.T) {
	rel := ratingtest.NewRelational()
	doc := ratingtest.NewDocument()

	_, err := rating.NewCoordinator(rating.Options{}, rel)
	assert.Error(t, err)

	_, err = rating.NewCoordinator(rating.Options{}, rel, ratingtest.NewRelational(), doc)
	assert.Error(t, err)

	_, err = rating.NewCoordinator(rating.Options{DefaultTarget: "cassandra"}, rel, doc)
	assert.Error(t, err)

	c, err := rating.NewCoordinator(rating.Options{}, doc, rel)
	require.NoError(t, err)
	assert.Equal(t, domain.OriginRelational, c.DefaultTarget())
}

func TestSubmit_WritesToDefaultTargetOnly(t *testing.T) {
	f := newFixture(t, "")

	r := submit(t, f.coord, "Ana", 4, "")

	assert.Equal(t, domain.OriginRelational, r.Origin)
	assert.Equal(t, "1", r.ID)
	assert.Equal(t, "Ana", r.Name)
	assert.Equal(t, 4, r.Score)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, 1, f.rel.Len())
	assert.Equal(t, 0, f.doc.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RatingsSubmitted.WithLabelValues("relational")))
}

func TestSubmit_TargetPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		configured domain.Origin
		scoped     domain.Origin
		explicit   domain.Origin
		want       domain.Origin
	}{
		{"configured relational", domain.OriginRelational, "", "", domain.OriginRelational},
		{"configured document", domain.OriginDocument, "", "", domain.OriginDocument},
		{"scoped beats configured", domain.OriginRelational, domain.OriginDocument, "", domain.OriginDocument},
		{"explicit beats scoped", domain.OriginRelational, domain.OriginDocument, domain.OriginRelational, domain.OriginRelational},
		{"explicit beats configured", domain.OriginDocument, "", domain.OriginRelational, domain.OriginRelational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.configured)
			ctx := context.Background()
			if tt.scoped != "" {
				ctx = rating.WithDefaultTarget(ctx, tt.scoped)
			}

			r, err := f.coord.Submit(ctx, rating.Submission{Name: "Ana", Score: 3}, tt.explicit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Origin)

			if tt.want == domain.OriginRelational {
				assert.Equal(t, 1, f.rel.Len())
				assert.Equal(t, 0, f.doc.Len())
			} else {
				assert.Equal(t, 0, f.rel.Len())
				assert.Equal(t, 1, f.doc.Len())
			}
		})
	}
}

func TestSubmit_UnknownExplicitTarget(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.coord.Submit(context.Background(), rating.Submission{Name: "Ana", Score: 3}, "cassandra")

	failure := requireKind(t, err, domain.KindValidation)
	assert.Contains(t, failure.Fields, "store")
	assert.Equal(t, 0, f.rel.Calls("insert"))
	assert.Equal(t, 0, f.doc.Calls("insert"))
}

func TestSubmit_InvalidInputTouchesNoStore(t *testing.T) {
	f := newFixture(t, "")

	for _, score := range []int{0, 6, -3} {
		_, err := f.coord.Submit(context.Background(), rating.Submission{Name: "Ana", Score: score}, "")
		failure := requireKind(t, err, domain.KindValidation)
		assert.Equal(t, "must be between 1 and 5", failure.Fields["score"])
	}

	assert.Equal(t, 0, f.rel.Calls("insert"))
	assert.Equal(t, 0, f.doc.Calls("insert"))
}

func TestSubmit_TrimsText(t *testing.T) {
	f := newFixture(t, "")

	r, err := f.coord.Submit(context.Background(), rating.Submission{Name: "  Ana  ", Comment: " ok ", Score: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", r.Name)
	assert.Equal(t, "ok", r.Comment)
}

func TestSubmit_NoFallbackWhenTargetFails(t *testing.T) {
	f := newFixture(t, domain.OriginDocument)
	f.doc.Fail(errDown)

	_, err := f.coord.Submit(context.Background(), rating.Submission{Name: "Ana", Score: 3}, "")

	failure := requireKind(t, err, domain.KindEnvironment)
	assert.Equal(t, domain.OriginDocument, failure.Origin)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 0, f.rel.Calls("insert"))
	assert.Equal(t, 0, f.rel.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RatingsSubmitted.WithLabelValues("document")))
}

func TestSubmit_StoreRejectionIsValidation(t *testing.T) {
	f := newFixture(t, "")
	f.rel.Fail(fmt.Errorf("violates check constraint: %w", domain.ErrRejected))

	_, err := f.coord.Submit(context.Background(), rating.Submission{Name: "Ana", Score: 3}, "")
	requireKind(t, err, domain.KindValidation)
}

func TestSubmit_UnexpectedErrorIsInternal(t *testing.T) {
	f := newFixture(t, "")
	f.rel.Fail(errors.New("disk on fire"))

	_, err := f.coord.Submit(context.Background(), rating.Submission{Name: "Ana", Score: 3}, "")
	requireKind(t, err, domain.KindInternal)
}

func TestListAll_MergesNewestFirst(t *testing.T) {
	f := newFixture(t, "")
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	f.rel.SetNow(clock(base))
	submit(t, f.coord, "uno", 1, domain.OriginRelational)
	f.doc.SetNow(clock(base.Add(time.Hour)))
	submit(t, f.coord, "dos", 2, domain.OriginDocument)
	f.rel.SetNow(clock(base.Add(2 * time.Hour)))
	submit(t, f.coord, "tres", 3, domain.OriginRelational)
	f.doc.SetNow(clock(base.Add(3 * time.Hour)))
	submit(t, f.coord, "cuatro", 4, domain.OriginDocument)
	f.rel.SetNow(clock(base.Add(4 * time.Hour)))
	submit(t, f.coord, "cinco", 5, domain.OriginRelational)

	listing := f.coord.ListAll(context.Background())

	require.False(t, listing.Partial())
	require.Len(t, listing.Ratings, 5)
	names := make([]string, 0, 5)
	for _, r := range listing.Ratings {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"cinco", "cuatro", "tres", "dos", "uno"}, names)
	for i := 1; i < len(listing.Ratings); i++ {
		assert.True(t, listing.Ratings[i-1].CreatedAt.After(listing.Ratings[i].CreatedAt))
	}
}

func TestListAll_EachCallRequeriesAndOwnsItsSlice(t *testing.T) {
	f := newFixture(t, "")
	submit(t, f.coord, "Ana", 4, domain.OriginRelational)

	first := f.coord.ListAll(context.Background())
	require.Len(t, first.Ratings, 1)
	first.Ratings[0].Name = "changed"

	submit(t, f.coord, "Luis", 2, domain.OriginDocument)
	second := f.coord.ListAll(context.Background())

	require.Len(t, second.Ratings, 2)
	assert.Equal(t, 2, f.rel.Calls("query_all"))
	assert.Equal(t, 2, f.doc.Calls("query_all"))
	for _, r := range second.Ratings {
		assert.NotEqual(t, "changed", r.Name)
	}
}

func TestSubmitThenGet_RoundTrip(t *testing.T) {
	for _, origin := range domain.Origins {
		t.Run(string(origin), func(t *testing.T) {
			f := newFixture(t, "")
			before := time.Now()

			stored, err := f.coord.Submit(context.Background(),
				rating.Submission{Name: "Ana Gómez", Comment: "me ayudó mucho", Score: 4}, origin)
			require.NoError(t, err)

			got, err := f.coord.Get(context.Background(), stored.ID)
			require.NoError(t, err)
			assert.Equal(t, origin, got.Origin)
			assert.Equal(t, "Ana Gómez", got.Name)
			assert.Equal(t, "me ayudó mucho", got.Comment)
			assert.Equal(t, 4, got.Score)
			assert.WithinDuration(t, before, got.CreatedAt, 2*time.Second)
		})
	}
}

func TestListAll_EqualTimestampsRelationalFirst(t *testing.T) {
	f := newFixture(t, "")
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	f.rel.SetNow(clock(at))
	f.doc.SetNow(clock(at))

	submit(t, f.coord, "documento", 3, domain.OriginDocument)
	submit(t, f.coord, "relacional", 3, domain.OriginRelational)

	listing := f.coord.ListAll(context.Background())
	require.Len(t, listing.Ratings, 2)
	assert.Equal(t, domain.OriginRelational, listing.Ratings[0].Origin)
	assert.Equal(t, domain.OriginDocument, listing.Ratings[1].Origin)
}

func TestListAll_ContainsEverySubmission(t *testing.T) {
	f := newFixture(t, "")
	var keys []string
	for i, origin := range []domain.Origin{domain.OriginRelational, domain.OriginDocument, domain.OriginDocument, domain.OriginRelational} {
		r := submit(t, f.coord, fmt.Sprintf("persona %d", i), i%5+1, origin)
		keys = append(keys, r.Key())
	}

	listing := f.coord.ListAll(context.Background())
	got := make(map[string]bool)
	for _, r := range listing.Ratings {
		got[r.Key()] = true
	}
	for _, key := range keys {
		assert.True(t, got[key], "listing is missing %s", key)
	}
}

func TestListAll_OneStoreDownIsPartial(t *testing.T) {
	f := newFixture(t, "")
	submit(t, f.coord, "Ana", 5, domain.OriginRelational)
	submit(t, f.coord, "Luis", 4, domain.OriginDocument)
	f.doc.Fail(errDown)

	listing := f.coord.ListAll(context.Background())

	assert.True(t, listing.Partial())
	require.Len(t, listing.Ratings, 1)
	assert.Equal(t, domain.OriginRelational, listing.Ratings[0].Origin)
	require.Contains(t, listing.Failures, domain.OriginDocument)
	assert.Equal(t, domain.KindEnvironment, listing.Failures[domain.OriginDocument].Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PartialListings.WithLabelValues("document")))
}

func TestListAll_BothStoresDownIsEmpty(t *testing.T) {
	f := newFixture(t, "")
	f.rel.Fail(errDown)
	f.doc.Fail(errDown)

	listing := f.coord.ListAll(context.Background())

	assert.Empty(t, listing.Ratings)
	assert.Len(t, listing.Failures, 2)
	report := listing.Report()
	assert.Equal(t, 0, report.Overall.Count)
	assert.Equal(t, 0.0, report.Overall.Average)
}

func TestListAll_UnconfiguredDocumentAdapterDegrades(t *testing.T) {
	rel := ratingtest.NewRelational()
	doc, err := docstore.New(docstore.Options{Database: "sistema_triage", Collection: "calificaciones"})
	require.NoError(t, err)
	coord, err := rating.NewCoordinator(rating.Options{}, rel, doc)
	require.NoError(t, err)

	submit(t, coord, "Ana", 5, "")

	listing := coord.ListAll(context.Background())
	require.Len(t, listing.Ratings, 1)
	assert.True(t, listing.Partial())
	assert.Equal(t, domain.KindEnvironment, listing.Failures[domain.OriginDocument].Kind)

	_, err = coord.Submit(context.Background(), rating.Submission{Name: "Luis", Score: 2}, domain.OriginDocument)
	requireKind(t, err, domain.KindEnvironment)
	assert.Equal(t, 1, rel.Len())
}

func TestListAll_ReportCoversBothOrigins(t *testing.T) {
	f := newFixture(t, "")
	for _, s := range []int{5, 5, 4} {
		submit(t, f.coord, "Ana", s, domain.OriginRelational)
	}
	for _, s := range []int{3, 1} {
		submit(t, f.coord, "Luis", s, domain.OriginDocument)
	}

	report := f.coord.ListAll(context.Background()).Report()
	assert.Equal(t, 5, report.Overall.Count)
	assert.InDelta(t, 3.6, report.Overall.Average, 1e-9)
	assert.Equal(t, 3, report.ByOrigin[domain.OriginRelational].Count)
	assert.Equal(t, 2, report.ByOrigin[domain.OriginDocument].Count)
}

func TestListFrom(t *testing.T) {
	f := newFixture(t, "")
	submit(t, f.coord, "Ana", 5, domain.OriginRelational)
	submit(t, f.coord, "Luis", 4, domain.OriginDocument)

	got, err := f.coord.ListFrom(context.Background(), domain.OriginDocument)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Luis", got[0].Name)

	f.rel.Fail(errDown)
	_, err = f.coord.ListFrom(context.Background(), domain.OriginRelational)
	requireKind(t, err, domain.KindEnvironment)

	_, err = f.coord.ListFrom(context.Background(), "cassandra")
	requireKind(t, err, domain.KindValidation)
}

func TestGet_ResolvesEitherStore(t *testing.T) {
	f := newFixture(t, "")
	relRating := submit(t, f.coord, "Ana", 5, domain.OriginRelational)
	docRating := submit(t, f.coord, "Luis", 4, domain.OriginDocument)

	got, err := f.coord.Get(context.Background(), relRating.ID)
	require.NoError(t, err)
	assert.Equal(t, relRating.Key(), got.Key())
	assert.Equal(t, 0, f.doc.Calls("query_by_key"))

	got, err = f.coord.Get(context.Background(), docRating.ID)
	require.NoError(t, err)
	assert.Equal(t, docRating.Key(), got.Key())
	assert.Equal(t, "Luis", got.Name)
}

func TestGet_AmbiguousKeyPrefersRelational(t *testing.T) {
	f := newFixture(t, "")
	submit(t, f.coord, "Ana", 5, domain.OriginRelational)
	f.doc.Seed(domain.RawRecord{"_id": "1", "name": "Importado", "score": int32(2)})

	got, err := f.coord.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginRelational, got.Origin)

	got, err = f.coord.GetFrom(context.Background(), domain.OriginDocument, "1")
	require.NoError(t, err)
	assert.Equal(t, "Importado", got.Name)
}

func TestGet_Misses(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.coord.Get(context.Background(), "999")
	requireKind(t, err, domain.KindNotFound)

	_, err = f.coord.Get(context.Background(), primitive.NewObjectID().Hex())
	requireKind(t, err, domain.KindNotFound)

	_, err = f.coord.Get(context.Background(), "  ")
	requireKind(t, err, domain.KindValidation)
}

func TestGet_UnavailableStoreIsNotReportedAsMissing(t *testing.T) {
	f := newFixture(t, "")
	f.doc.Fail(errDown)

	_, err := f.coord.Get(context.Background(), primitive.NewObjectID().Hex())
	failure := requireKind(t, err, domain.KindEnvironment)
	assert.Equal(t, domain.OriginDocument, failure.Origin)
}

func TestGet_FoundDespiteOtherStoreDown(t *testing.T) {
	f := newFixture(t, "")
	r := submit(t, f.coord, "Ana", 5, domain.OriginDocument)
	f.rel.Fail(errDown)

	got, err := f.coord.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Key(), got.Key())
}

func TestGetFrom_UnknownOrigin(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.coord.GetFrom(context.Background(), "cassandra", "1")
	requireKind(t, err, domain.KindValidation)
}

func TestSimilar(t *testing.T) {
	f := newFixture(t, "")
	target := submit(t, f.coord, "Ana", 4, domain.OriginRelational)
	submit(t, f.coord, "Luis", 4, domain.OriginDocument)
	submit(t, f.coord, "Marta", 4, domain.OriginRelational)
	submit(t, f.coord, "Pedro", 2, domain.OriginDocument)

	similar := f.coord.Similar(context.Background(), target, 5)
	require.Len(t, similar, 2)
	for _, r := range similar {
		assert.Equal(t, 4, r.Score)
		assert.NotEqual(t, target.Key(), r.Key())
	}

	assert.Len(t, f.coord.Similar(context.Background(), target, 1), 1)
	assert.Empty(t, f.coord.Similar(context.Background(), target, 0))
}

func TestCoordinator_ConcurrentUse(t *testing.T) {
	f := newFixture(t, "")
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			target := domain.Origins[i%2]
			_, _ = f.coord.Submit(context.Background(), rating.Submission{Name: "Concurrente", Score: i%5 + 1}, target)
			_ = f.coord.ListAll(context.Background())
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	listing := f.coord.ListAll(context.Background())
	assert.Len(t, listing.Ratings, 8)
}
