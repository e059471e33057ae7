// Package ingest turns skill taxonomies and user profiles into index
// records.
//
// Both pipelines process items on a bounded worker pool, record per-item
// failures instead of aborting, and upload every staged record in one
// batch once all workers are done. A canceled run uploads nothing and
// returns the partial Report with Canceled set.
package ingest

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

const (
	defaultWorkers = 4
	defaultSource  = "ollama"
)

// slot is one item's outcome, written by exactly one worker.
type slot struct {
	record  *vectorindex.Record
	failure *Failure
	err     error
}

// runner holds what both pipelines share.
type runner struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	workers  int
	logger   *logging.Logger
}

func newRunner(emb embedding.Embedder, idx vectorindex.Index, workers int, logger *logging.Logger) runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return runner{embedder: emb, index: idx, workers: workers, logger: logger.WithComponent("ingest")}
}

// embed returns the vector for text, checking it against the index dimension.
func (r runner) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if dim := r.index.Dimension(); dim > 0 && len(vec) != dim {
		return nil, errors.DimensionMismatch(len(vec), dim, errors.WithUpstream(embedding.Upstream))
	}
	return vec, nil
}

// run processes n items with process and uploads the staged records to ns.
func (r runner) run(ctx context.Context, ns string, ids []string, process func(ctx context.Context, i int) slot) (*Report, error) {
	start := time.Now()
	report := &Report{Namespace: ns, Processed: []string{}, Failures: []Failure{}}
	r.logger.IngestStart(ns, len(ids))

	slots := make([]slot, len(ids))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := range ids {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i] = process(ctx, i)
			return nil
		})
	}
	g.Wait()

	var staged []vectorindex.Record
	for i, s := range slots {
		switch {
		case s.record != nil:
			staged = append(staged, *s.record)
			report.Processed = append(report.Processed, ids[i])
		case s.failure != nil:
			report.Failures = append(report.Failures, *s.failure)
			r.logger.IngestItemFailed(ns, s.failure.ID, s.failure.Stage, s.err)
		}
	}

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		report.Duration = time.Since(start)
		r.logger.IngestComplete(ns, 0, len(report.Failures), report.Duration, true)
		return report, errors.WrapWithCode(err, errors.ErrCodeCanceled, ns+" ingestion canceled")
	}

	if len(staged) > 0 {
		if err := r.index.Upsert(ctx, ns, staged); err != nil {
			report.Duration = time.Since(start)
			if ctx.Err() != nil {
				report.Canceled = true
				r.logger.IngestComplete(ns, 0, len(report.Failures), report.Duration, true)
				return report, errors.WrapWithCode(ctx.Err(), errors.ErrCodeCanceled, ns+" ingestion canceled")
			}
			r.logger.Error("batch_upsert_failed", map[string]interface{}{
				"namespace": ns,
				"records":   len(staged),
				"error":     err.Error(),
			})
			return report, errors.Wrap(err, "upload "+ns+" batch")
		}
	}

	report.Uploaded = len(staged)
	report.Duration = time.Since(start)
	r.logger.IngestComplete(ns, report.Uploaded, len(report.Failures), report.Duration, false)
	return report, nil
}

// failed turns an item error into a failed slot. Errors that only reflect
// the run's own cancellation leave the slot empty.
func failed(ctx context.Context, id, stage string, err error) slot {
	if ctx.Err() != nil {
		return slot{}
	}
	f := newFailure(id, stage, err)
	return slot{failure: &f, err: err}
}
