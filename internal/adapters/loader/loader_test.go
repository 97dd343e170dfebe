package loader_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/clipfuse/internal/adapters/dataset"
	"github.com/okian/clipfuse/internal/adapters/loader"
	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

var errBroken = errors.New("broken video")

func TestMain(m *testing.M) {
	_ = logger.Init()
	goleak.VerifyTestMain(m)
}

// stubSource labels each sample with its index. Lower indices take longer to
// decode so concurrent workers finish out of order.
type stubSource struct {
	n      int
	skip   map[int]bool
	fail   map[int]bool
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (s *stubSource) Len() int { return s.n }

func (s *stubSource) Get(ctx context.Context, i int) (model.Sample, error) {
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(time.Duration(s.n-i) * s.delay):
		case <-ctx.Done():
			return model.Sample{}, ctx.Err()
		}
	}
	switch {
	case s.skip[i]:
		return model.Sample{}, fmt.Errorf("%w: %d", dataset.ErrSkipSample, i)
	case s.fail[i]:
		return model.Sample{}, fmt.Errorf("%w: %d", errBroken, i)
	}
	return model.Sample{Path: fmt.Sprintf("v%d.mp4", i), Label: i, Frames: []model.Frame{model.NewFrame(1, 1)}}, nil
}

func labelsOf(batches []model.Batch) [][]int {
	out := make([][]int, 0, len(batches))
	for _, b := range batches {
		out = append(out, b.Labels())
	}
	return out
}

func TestLoader_New(t *testing.T) {
	Convey("Given loader construction", t, func() {
		Convey("When the batch size is not positive", func() {
			_, err := loader.New(&stubSource{n: 3}, loader.WithBatchSize(0))

			Convey("Then ErrInvalidBatchSize is returned", func() {
				So(errors.Is(err, loader.ErrInvalidBatchSize), ShouldBeTrue)
			})
		})

		Convey("When the source is empty", func() {
			_, err := loader.New(&stubSource{n: 0})

			Convey("Then ErrEmptySource is returned", func() {
				So(errors.Is(err, loader.ErrEmptySource), ShouldBeTrue)
			})
		})

		Convey("When the source has 5 samples and batch size 2", func() {
			l, err := loader.New(&stubSource{n: 5}, loader.WithBatchSize(2))

			Convey("Then there are 3 batches", func() {
				So(err, ShouldBeNil)
				So(l.NumBatches(), ShouldEqual, 3)
				So(l.BatchSize(), ShouldEqual, 2)
			})
		})
	})
}

func TestLoader_Order(t *testing.T) {
	Convey("Given a source decoded by several workers out of order", t, func() {
		src := &stubSource{n: 5, delay: time.Millisecond}
		l, err := loader.New(src, loader.WithBatchSize(2), loader.WithWorkers(3))
		So(err, ShouldBeNil)

		Convey("When a pass is collected", func() {
			batches, err := l.Collect(context.Background())

			Convey("Then batches keep dataset order and the last one is partial", func() {
				So(err, ShouldBeNil)
				So(labelsOf(batches), ShouldResemble, [][]int{{0, 1}, {2, 3}, {4}})
			})

			Convey("And decoding ran concurrently", func() {
				So(src.peak.Load(), ShouldBeGreaterThan, 1)
			})
		})
	})

	Convey("Given a single worker", t, func() {
		src := &stubSource{n: 4}
		l, err := loader.New(src, loader.WithBatchSize(3))
		So(err, ShouldBeNil)
		_, err = l.Collect(context.Background())
		So(err, ShouldBeNil)

		Convey("Then decoding is sequential", func() {
			So(src.peak.Load(), ShouldEqual, 1)
		})
	})
}

func TestLoader_Shuffle(t *testing.T) {
	Convey("Given two shuffling loaders with the same seed", t, func() {
		ctx := context.Background()
		opts := []loader.Option{loader.WithBatchSize(4), loader.WithShuffle(true), loader.WithSeed(7)}
		a, err := loader.New(&stubSource{n: 20}, opts...)
		So(err, ShouldBeNil)
		b, err := loader.New(&stubSource{n: 20}, opts...)
		So(err, ShouldBeNil)

		first, err := a.Collect(ctx)
		So(err, ShouldBeNil)
		other, err := b.Collect(ctx)
		So(err, ShouldBeNil)

		Convey("Then they produce the same order", func() {
			So(labelsOf(first), ShouldResemble, labelsOf(other))
		})

		Convey("And every sample appears exactly once", func() {
			var all []int
			for _, labels := range labelsOf(first) {
				all = append(all, labels...)
			}
			sort.Ints(all)
			want := make([]int, 20)
			for i := range want {
				want[i] = i
			}
			So(all, ShouldResemble, want)
		})

		Convey("And the next pass draws a new permutation", func() {
			second, err := a.Collect(ctx)
			So(err, ShouldBeNil)
			So(labelsOf(second), ShouldNotResemble, labelsOf(first))
		})
	})
}

func TestLoader_Errors(t *testing.T) {
	Convey("Given a source with skipped samples", t, func() {
		src := &stubSource{n: 5, skip: map[int]bool{1: true, 2: true, 3: true}}
		l, err := loader.New(src, loader.WithBatchSize(2))
		So(err, ShouldBeNil)

		batches, err := l.Collect(context.Background())

		Convey("Then skipped samples are dropped and empty batches are not sent", func() {
			So(err, ShouldBeNil)
			So(labelsOf(batches), ShouldResemble, [][]int{{0}, {4}})
		})
	})

	Convey("Given a source with a broken sample", t, func() {
		src := &stubSource{n: 6, fail: map[int]bool{3: true}}
		l, err := loader.New(src, loader.WithBatchSize(2), loader.WithWorkers(2))
		So(err, ShouldBeNil)

		Convey("When iterating batch by batch", func() {
			var got []loader.Result
			for r := range l.Batches(context.Background()) {
				got = append(got, r)
			}

			Convey("Then the pass ends with the sample error", func() {
				So(len(got), ShouldEqual, 2)
				So(got[0].Err, ShouldBeNil)
				So(errors.Is(got[1].Err, errBroken), ShouldBeTrue)
			})
		})

		Convey("When collecting", func() {
			_, err := l.Collect(context.Background())

			Convey("Then the error is returned", func() {
				So(errors.Is(err, errBroken), ShouldBeTrue)
			})
		})
	})
}

func TestLoader_Cancel(t *testing.T) {
	Convey("Given a canceled context", t, func() {
		l, err := loader.New(&stubSource{n: 4}, loader.WithWorkers(2))
		So(err, ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = l.Collect(ctx)

		Convey("Then the pass stops with the context error", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})

	Convey("Given a consumer that stops after the first batch", t, func() {
		l, err := loader.New(&stubSource{n: 12, delay: time.Millisecond}, loader.WithBatchSize(2), loader.WithWorkers(4))
		So(err, ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())

		ch := l.Batches(ctx)
		first := <-ch
		cancel()
		for range ch {
		}

		Convey("Then the first batch was delivered and the channel closes", func() {
			So(first.Err, ShouldBeNil)
			So(first.Batch.Labels(), ShouldResemble, []int{0, 1})
		})
	})
}
