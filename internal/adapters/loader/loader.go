// Package loader groups dataset samples into batches, decoding them on a
// bounded pool of workers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/clipfuse/internal/adapters/dataset"
	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
)

const (
	defaultBatchSize = 4
	defaultWorkers   = 1
)

// Source is an indexed collection of samples.
type Source interface {
	Len() int
	Get(ctx context.Context, i int) (model.Sample, error)
}

// Result is one item of a pass: a batch, or the error that ended the pass.
type Result struct {
	Batch model.Batch
	Err   error
}

// Loader iterates a Source in batches.
type Loader struct {
	source    Source
	batchSize int
	shuffle   bool
	seed      int64
	workers   int

	mu  sync.Mutex
	rng *rand.Rand

	logger logger.Logger
}

// New creates a loader over source.
func New(source Source, opts ...Option) (*Loader, error) {
	l := &Loader{
		source:    source,
		batchSize: defaultBatchSize,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.batchSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, l.batchSize)
	}
	if source == nil || source.Len() == 0 {
		return nil, ErrEmptySource
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("loader")
	}
	l.rng = rand.New(rand.NewSource(l.seed)) //nolint:gosec // shuffling, not security

	metrics.UpdateDecodeWorkers(l.workers)
	return l, nil
}

// NumBatches is the number of batches in a pass before any samples are skipped.
func (l *Loader) NumBatches() int {
	return (l.source.Len() + l.batchSize - 1) / l.batchSize
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// order returns the sample indices for the next pass.
func (l *Loader) order() []int {
	n := l.source.Len()
	if !l.shuffle {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Perm(n)
}

type job struct {
	pos   int
	index int
}

type decoded struct {
	pos    int
	sample model.Sample
	err    error
}

// Batches starts one pass over the source. Batches arrive in sample order;
// samples the dataset asks to skip are dropped and a batch left empty is not
// sent. The first other error is sent as the last Result. The channel is
// closed when the pass ends or ctx is canceled, after all workers exit.
func (l *Loader) Batches(ctx context.Context) <-chan Result {
	order := l.order()
	out := make(chan Result)

	jobs := make(chan job, l.batchSize)
	results := make(chan decoded, l.batchSize)

	var wg sync.WaitGroup
	for w := 0; w < l.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s, err := l.source.Get(ctx, j.index)
				results <- decoded{pos: j.pos, sample: s, err: err}
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(out)
		}()

		for start := 0; start < len(order); start += l.batchSize {
			if ctx.Err() != nil {
				return
			}
			end := min(start+l.batchSize, len(order))

			began := time.Now()
			batch, err := l.load(ctx, jobs, results, order[start:end])
			metrics.RecordBatchLoad(time.Since(began))

			if err != nil {
				metrics.RecordErrorByComponent("loader", "sample")
				l.send(ctx, out, Result{Err: err})
				return
			}
			if batch.Len() == 0 {
				continue
			}
			if !l.send(ctx, out, Result{Batch: batch}) {
				return
			}
		}
	}()

	return out
}

// load decodes one batch worth of indices and reassembles it in order.
func (l *Loader) load(ctx context.Context, jobs chan<- job, results <-chan decoded, indices []int) (model.Batch, error) {
	for pos, idx := range indices {
		jobs <- job{pos: pos, index: idx}
	}

	slots := make([]decoded, len(indices))
	for range indices {
		r := <-results
		slots[r.pos] = r
	}

	batch := model.Batch{Samples: make([]model.Sample, 0, len(indices))}
	for i, r := range slots {
		switch {
		case r.err == nil:
			batch.Samples = append(batch.Samples, r.sample)
		case errors.Is(r.err, dataset.ErrSkipSample):
			l.logger.Debug(ctx, "sample skipped",
				logger.Int("index", indices[i]),
				logger.Error(r.err),
			)
		default:
			return model.Batch{}, fmt.Errorf("load sample %d: %w", indices[i], r.err)
		}
	}
	return batch, nil
}

func (l *Loader) send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect runs a full pass and returns every batch.
func (l *Loader) Collect(ctx context.Context) ([]model.Batch, error) {
	var batches []model.Batch
	for r := range l.Batches(ctx) {
		if r.Err != nil {
			return nil, r.Err
		}
		batches = append(batches, r.Batch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}
