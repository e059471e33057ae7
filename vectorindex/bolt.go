package vectorindex

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vinayprograms/skillsynth/errors"
)

// Bolt is a persistent Index backed by a single bbolt file. Each namespace
// is a bucket keyed by record id; values are JSON records.
type Bolt struct {
	db  *bbolt.DB
	dim int
}

// OpenBolt opens or creates the index file at path.
func OpenBolt(path string, dim int) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Unavailable(Upstream, 0, "open bolt index "+path, errors.WithCause(err))
	}
	return &Bolt{db: db, dim: dim}, nil
}

// Upsert implements Index. All records are written in one transaction.
func (b *Bolt) Upsert(ctx context.Context, ns string, records []Record) error {
	if err := validateNamespace(ns); err != nil {
		return err
	}
	if err := validateRecords(b.dim, records); err != nil {
		return err
	}
	if err := contextError(ctx, "upsert"); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Unavailable(Upstream, 0, "bolt upsert", errors.WithCause(err), errors.WithRetryable(false))
	}
	return nil
}

// Fetch implements Index.
func (b *Bolt) Fetch(ctx context.Context, ns string, ids []string) (map[string]Record, error) {
	if err := contextError(ctx, "fetch"); err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(ids))
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			out[id] = r
		}
		return nil
	})
	if err != nil {
		return nil, errors.Unavailable(Upstream, 0, "bolt fetch", errors.WithCause(err), errors.WithRetryable(false))
	}
	return out, nil
}

// Query implements Index by scanning the namespace bucket.
func (b *Bolt) Query(ctx context.Context, ns string, vector []float32, k int, includeMetadata bool) ([]Match, error) {
	if err := checkDimension(b.dim, vector); err != nil {
		return nil, err
	}
	if err := contextError(ctx, "query"); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	s := scorer{query: vector, includeMetadata: includeMetadata}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, data []byte) error {
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			s.add(r)
			return ctx.Err()
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, "query")
		}
		return nil, errors.Unavailable(Upstream, 0, "bolt query", errors.WithCause(err), errors.WithRetryable(false))
	}
	return Rank(s.matches, k), nil
}

// Dimension implements Index.
func (b *Bolt) Dimension() int { return b.dim }

// Close implements Index.
func (b *Bolt) Close() error {
	return b.db.Close()
}
