package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ authcore.AuditSink = (*Sink)(nil)

// DefaultCollection is the collection name used when Config.Collection is empty.
const DefaultCollection = "audit_logs"

type inserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// Config configures a [Sink].
type Config struct {
	Collection   string
	WriteTimeout time.Duration
	Logger       *slog.Logger

	// Retention expires documents through a TTL index. Zero keeps them.
	Retention time.Duration
}

// Sink writes events with InsertOne. Failed writes are logged and counted;
// Emit never blocks longer than WriteTimeout.
type Sink struct {
	coll    *mongo.Collection
	insert  inserter
	cfg     Config
	logger  *slog.Logger
	failed  atomic.Uint64
	written atomic.Uint64
}

// NewSink returns a sink over db.Collection(cfg.Collection).
func NewSink(db *mongo.Database, cfg Config) *Sink {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	coll := db.Collection(cfg.Collection)
	s := newSink(coll, cfg)
	s.coll = coll
	return s
}

func newSink(ins inserter, cfg Config) *Sink {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{insert: ins, cfg: cfg, logger: logger}
}

// Connect dials uri with the stable server API and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the lookup indexes used by [Sink.Recent] and, when
// Retention is set, a TTL index on timestamp.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	if s.coll == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if s.cfg.Retention > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.cfg.Retention / time.Second)),
		})
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

// Emit inserts event. The dispatcher context carries no deadline, so each
// write gets its own.
func (s *Sink) Emit(ctx context.Context, event authcore.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()

	if _, err := s.insert.InsertOne(ctx, event); err != nil {
		s.failed.Add(1)
		s.logger.Warn("audit write failed", "event_type", event.EventType, "error", err)
		return
	}
	s.written.Add(1)
}

// Query filters [Sink.Recent]. Empty fields match everything.
type Query struct {
	UserID    string
	EventType string
	Since     time.Time
}

// Recent returns up to limit matching events, newest first.
func (s *Sink) Recent(ctx context.Context, q Query, limit int64) ([]authcore.AuditEvent, error) {
	if s.coll == nil {
		return nil, nil
	}
	filter := bson.M{}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.EventType != "" {
		filter["event_type"] = q.EventType
	}
	if !q.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": q.Since}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]authcore.AuditEvent, 0)
	for cursor.Next(ctx) {
		var ev authcore.AuditEvent
		if err := cursor.Decode(&ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, cursor.Err()
}

// Failed reports writes that returned an error.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// Written reports successful writes.
func (s *Sink) Written() uint64 { return s.written.Load() }
