// Package docstore is the document-store rating adapter, backed by MongoDB.
//
// Every operation opens its own client, pings the primary, runs, and
// disconnects before returning. No connection outlives the call that opened
// it, so concurrent calls never share one. Connectivity, authentication and
// timeout faults are reported wrapped in domain.ErrUnavailable.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

const (
	fieldID        = "_id"
	fieldCreatedAt = "fecha_creacion"
	defaultTimeout = 5 * time.Second
)

// ErrNotConfigured is returned (wrapped in domain.ErrUnavailable) when no
// connection string was supplied.
var ErrNotConfigured = errors.New("docstore: connection string not configured")

// Options configures the adapter.
type Options struct {
	URI        string
	Database   string
	Collection string
	// Timeout bounds the whole call: connection establishment, the liveness
	// ping, the operation and the disconnect share one deadline.
	Timeout time.Duration
	// Location formats the display timestamp.
	Location *time.Location
	// BreakerFailures consecutive environment failures open the circuit;
	// zero disables the breaker.
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// Store implements the rating adapter contract over a MongoDB collection.
type Store struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// ratingDocument is the stored shape of a rating, under the field names the
// triage web app reads.
type ratingDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	Name             string             `bson:"nombre"`
	Comment          string             `bson:"comentario"`
	Score            int                `bson:"calificacion"`
	CreatedAt        time.Time          `bson:"fecha_creacion"`
	CreatedAtDisplay string             `bson:"fecha_creacion_display"`
}

// CollectionInfo is a name and document count pair reported by Inspect.
type CollectionInfo struct {
	Name      string
	Documents int64
}

// New validates options; it does not connect.
func New(opts Options) (*Store, error) {
	if opts.Database == "" || opts.Collection == "" {
		return nil, fmt.Errorf("docstore: database and collection are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{opts: opts, logger: logger.Named("docstore")}
	if opts.BreakerFailures > 0 {
		s.breaker = newBreaker(opts.BreakerFailures, opts.BreakerCooldown, s.logger)
	}
	return s, nil
}

func newBreaker(failures int, cooldown time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(failures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "docstore",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Only connectivity faults count against the store.
			return err == nil || !errors.Is(err, domain.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Origin reports the backend this adapter serves.
func (s *Store) Origin() domain.Origin {
	return domain.OriginDocument
}

// Insert stores a rating document and returns it as stored.
func (s *Store) Insert(ctx context.Context, in domain.NewRating) (domain.RawRecord, error) {
	now := s.opts.Now()
	doc := ratingDocument{
		Name:             in.Name,
		Comment:          in.Comment,
		Score:            in.Score,
		CreatedAt:        now.UTC(),
		CreatedAtDisplay: now.In(s.opts.Location).Format(domain.DisplayLayout),
	}

	var stored domain.RawRecord
	err := s.run(ctx, "insert", func(ctx context.Context, coll *mongo.Collection) error {
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return err
		}
		stored = domain.RawRecord{
			fieldID:                  res.InsertedID,
			"nombre":                 doc.Name,
			"comentario":             doc.Comment,
			"calificacion":           doc.Score,
			fieldCreatedAt:           primitive.NewDateTimeFromTime(doc.CreatedAt),
			"fecha_creacion_display": doc.CreatedAtDisplay,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("rating stored", zap.Any("id", stored[fieldID]))
	return stored, nil
}

// QueryAll returns every rating document, newest first.
func (s *Store) QueryAll(ctx context.Context) ([]domain.RawRecord, error) {
	var results []domain.RawRecord
	err := s.run(ctx, "query_all", func(ctx context.Context, coll *mongo.Collection) error {
		opts := options.Find().SetSort(bson.D{{Key: fieldCreatedAt, Value: -1}})
		cursor, err := coll.Find(ctx, bson.D{}, opts)
		if err != nil {
			return err
		}
		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return err
		}
		results = make([]domain.RawRecord, 0, len(docs))
		for _, doc := range docs {
			results = append(results, domain.RawRecord(doc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// QueryByKey fetches a document by ObjectID hex, or by a literal string _id
// when the key is not a valid ObjectID.
func (s *Store) QueryByKey(ctx context.Context, key string) (domain.RawRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty document id", domain.ErrInvalidKey)
	}
	filter := bson.D{{Key: fieldID, Value: key}}
	if oid, err := primitive.ObjectIDFromHex(key); err == nil {
		filter = bson.D{{Key: fieldID, Value: oid}}
	}

	var doc bson.M
	err := s.run(ctx, "query_by_key", func(ctx context.Context, coll *mongo.Collection) error {
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return domain.RawRecord(doc), nil
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.run(ctx, "ping", func(context.Context, *mongo.Collection) error { return nil })
}

// Inspect lists the collections of the configured database with their
// document counts.
func (s *Store) Inspect(ctx context.Context) ([]CollectionInfo, error) {
	var infos []CollectionInfo
	err := s.run(ctx, "inspect", func(ctx context.Context, coll *mongo.Collection) error {
		database := coll.Database()
		names, err := database.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return err
		}
		for _, name := range names {
			count, err := database.Collection(name).CountDocuments(ctx, bson.D{})
			if err != nil {
				return fmt.Errorf("count %s: %w", name, err)
			}
			infos = append(infos, CollectionInfo{Name: name, Documents: count})
		}
		return nil
	})
	return infos, err
}

// run executes fn through the breaker, when one is configured.
func (s *Store) run(ctx context.Context, op string, fn func(context.Context, *mongo.Collection) error) error {
	if s.breaker == nil {
		return s.withCollection(ctx, op, fn)
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.withCollection(ctx, op, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
	}
	return err
}

// withCollection opens a private client, pings it, hands the collection to fn
// and always disconnects.
func (s *Store) withCollection(ctx context.Context, op string, fn func(context.Context, *mongo.Collection) error) (err error) {
	if s.opts.URI == "" {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, ErrNotConfigured)
	}

	ctx, releaseCtx, cancel := s.callContexts(ctx)
	defer cancel()

	client, err := mongo.Connect(ctx, s.clientOptions())
	if err != nil {
		return fmt.Errorf("%w: connect: %w", domain.ErrUnavailable, err)
	}
	defer func() {
		// Past the deadline Disconnect closes in-use connections instead of
		// waiting for them.
		if derr := client.Disconnect(releaseCtx); derr != nil {
			s.logger.Warn("disconnect failed", zap.String("op", op), zap.Error(derr))
		}
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrUnavailable, err)
	}

	coll := client.Database(s.opts.Database).Collection(s.opts.Collection)
	if err := fn(ctx, coll); err != nil {
		return classify(op, err)
	}
	return nil
}

// callContexts returns the operation context and the release context of one
// call. Both end at the same deadline; release is detached from ctx
// cancellation so the client is always closed.
func (s *Store) callContexts(ctx context.Context) (context.Context, context.Context, context.CancelFunc) {
	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	opCtx, opCancel := context.WithDeadline(ctx, deadline)
	releaseCtx, releaseCancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	return opCtx, releaseCtx, func() {
		releaseCancel()
		opCancel()
	}
}

// clientOptions disables the driver's retryable writes: an insert that fails
// on the wire is reported, never re-sent.
func (s *Store) clientOptions() *options.ClientOptions {
	return options.Client().
		ApplyURI(s.opts.URI).
		SetConnectTimeout(s.opts.Timeout).
		SetServerSelectionTimeout(s.opts.Timeout).
		SetRetryWrites(false)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidKey):
		return err
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
	default:
		return fmt.Errorf("docstore %s: %w", op, err)
	}
}
