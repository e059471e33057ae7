package vectorindex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vinayprograms/skillsynth/errors"
)

// NATS implements Index on JetStream KV, one bucket per namespace. Bucket
// names are "<prefix>-<namespace>". Keys are the base64url form of the
// record id so any skill or user name is a valid KV key.
type NATS struct {
	conn     *nats.Conn
	ownsConn bool
	js       jetstream.JetStream
	config   NATSConfig
	closed   atomic.Bool

	mu  sync.Mutex
	kvs map[string]jetstream.KeyValue
}

// NATSConfig holds NATS index configuration.
type NATSConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// BucketPrefix prefixes every namespace bucket.
	BucketPrefix string

	// Dimension is the vector length; 0 disables checks.
	Dimension int

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		BucketPrefix: "skillsynth",
		History:      1,
		MaxValueSize: 1024 * 1024, // 1MB
	}
}

// NewNATS creates a JetStream KV index. Buckets are created on first use.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Conn == nil {
		return nil, errors.InvalidInput("nats connection required")
	}
	defaults := DefaultNATSConfig()
	if cfg.BucketPrefix == "" {
		cfg.BucketPrefix = defaults.BucketPrefix
	}
	if cfg.History <= 0 {
		cfg.History = defaults.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, errors.Unavailable(Upstream, 0, "jetstream", errors.WithCause(err))
	}

	return &NATS{
		conn:   cfg.Conn,
		js:     js,
		config: cfg,
		kvs:    make(map[string]jetstream.KeyValue),
	}, nil
}

// BucketName returns the KV bucket for a namespace.
func (n *NATS) BucketName(ns string) string {
	return n.config.BucketPrefix + "-" + ns
}

func (n *NATS) bucket(ctx context.Context, ns string) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if kv, ok := n.kvs[ns]; ok {
		return kv, nil
	}
	kv, err := n.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       n.BucketName(ns),
		History:      uint8(n.config.History),
		MaxValueSize: n.config.MaxValueSize,
	})
	if err != nil {
		return nil, n.natsError(ctx, "create kv bucket", err)
	}
	n.kvs[ns] = kv
	return kv, nil
}

// Upsert implements Index. Each record is one KV put.
func (n *NATS) Upsert(ctx context.Context, ns string, records []Record) error {
	if err := n.ready(ns); err != nil {
		return err
	}
	if err := validateRecords(n.config.Dimension, records); err != nil {
		return err
	}
	kv, err := n.bucket(ctx, ns)
	if err != nil {
		return err
	}
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "marshal record")
		}
		if _, err := kv.Put(ctx, encodeKey(r.ID), data); err != nil {
			return n.natsError(ctx, "kv put", err)
		}
	}
	return nil
}

// Fetch implements Index.
func (n *NATS) Fetch(ctx context.Context, ns string, ids []string) (map[string]Record, error) {
	if err := n.ready(ns); err != nil {
		return nil, err
	}
	kv, err := n.bucket(ctx, ns)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		entry, err := kv.Get(ctx, encodeKey(id))
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, n.natsError(ctx, "kv get", err)
		}
		var r Record
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			return nil, errors.Wrap(err, "decode record "+id)
		}
		out[id] = r
	}
	return out, nil
}

// Query implements Index. The bucket's current values are read through a
// watcher, which delivers a nil entry once the initial snapshot is done.
func (n *NATS) Query(ctx context.Context, ns string, vector []float32, k int, includeMetadata bool) ([]Match, error) {
	if err := checkDimension(n.config.Dimension, vector); err != nil {
		return nil, err
	}
	if err := n.ready(ns); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}
	kv, err := n.bucket(ctx, ns)
	if err != nil {
		return nil, err
	}

	watcher, err := kv.WatchAll(ctx, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, n.natsError(ctx, "kv watch", err)
	}
	defer watcher.Stop()

	s := scorer{query: vector, includeMetadata: includeMetadata}
	for {
		select {
		case <-ctx.Done():
			return nil, contextError(ctx, "query")
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				return Rank(s.matches, k), nil
			}
			var r Record
			if err := json.Unmarshal(entry.Value(), &r); err != nil {
				continue
			}
			s.add(r)
		}
	}
}

// Dimension implements Index.
func (n *NATS) Dimension() int { return n.config.Dimension }

// Close marks the index closed. The connection is drained only when the
// index dialed it itself (see Open).
func (n *NATS) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	if n.ownsConn {
		return n.conn.Drain()
	}
	return nil
}

func (n *NATS) ready(ns string) error {
	if n.closed.Load() {
		return errors.Internal("nats index closed")
	}
	return validateNamespace(ns)
}

func (n *NATS) natsError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return contextError(ctx, op)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, nats.ErrTimeout) {
		return errors.New(errors.ErrCodeTimeout, op+" timed out", errors.WithUpstream(Upstream), errors.WithCause(err))
	}
	return errors.Unavailable(Upstream, 0, op, errors.WithCause(err))
}

func encodeKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}
