package vectorindex

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/resilience"
)

// Guarded applies a resilience policy to every Index call. Upsert
// overwrites by id, so all three operations are safe to retry.
type Guarded struct {
	inner Index
	guard *resilience.Guard
}

// NewGuarded wraps inner with guard.
func NewGuarded(inner Index, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

// Upsert implements Index.
func (g *Guarded) Upsert(ctx context.Context, ns string, records []Record) error {
	return g.guard.Do(ctx, "upsert", func(ctx context.Context) error {
		return g.inner.Upsert(ctx, ns, records)
	})
}

// Fetch implements Index.
func (g *Guarded) Fetch(ctx context.Context, ns string, ids []string) (map[string]Record, error) {
	return resilience.Call(ctx, g.guard, "fetch", func(ctx context.Context) (map[string]Record, error) {
		return g.inner.Fetch(ctx, ns, ids)
	})
}

// Query implements Index.
func (g *Guarded) Query(ctx context.Context, ns string, vector []float32, k int, includeMetadata bool) ([]Match, error) {
	return resilience.Call(ctx, g.guard, "query", func(ctx context.Context) ([]Match, error) {
		return g.inner.Query(ctx, ns, vector, k, includeMetadata)
	})
}

// Dimension implements Index.
func (g *Guarded) Dimension() int { return g.inner.Dimension() }

// Close implements Index.
func (g *Guarded) Close() error { return g.inner.Close() }

// Config selects and configures a backend for Open.
type Config struct {
	Backend   string // memory, bolt, nats, pinecone
	Dimension int
	Timeout   time.Duration

	// Path is the bolt file.
	Path string

	NATSURL      string
	BucketPrefix string

	PineconeHosts map[string]string
	APIKey        string
}

// Open creates the backend named by cfg.Backend.
func Open(cfg Config) (Index, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(cfg.Dimension), nil

	case "bolt":
		if cfg.Path == "" {
			return nil, errors.InvalidInput("index path is required for bolt")
		}
		idx, err := OpenBolt(cfg.Path, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return idx, nil

	case "nats":
		url := cfg.NATSURL
		if url == "" {
			url = nats.DefaultURL
		}
		opts := []nats.Option{nats.Name("skillsynth-index")}
		if cfg.Timeout > 0 {
			opts = append(opts, nats.Timeout(cfg.Timeout))
		}
		conn, err := nats.Connect(url, opts...)
		if err != nil {
			return nil, errors.Unavailable(Upstream, 0, "connect to nats at "+url, errors.WithCause(err))
		}
		idx, err := NewNATS(NATSConfig{Conn: conn, BucketPrefix: cfg.BucketPrefix, Dimension: cfg.Dimension})
		if err != nil {
			conn.Close()
			return nil, err
		}
		idx.ownsConn = true
		return idx, nil

	case "pinecone":
		idx, err := NewPinecone(PineconeConfig{
			APIKey:    cfg.APIKey,
			Hosts:     cfg.PineconeHosts,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil

	default:
		return nil, errors.InvalidInput("unknown index backend " + cfg.Backend)
	}
}
