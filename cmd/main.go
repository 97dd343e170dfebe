package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/clipfuse/internal/adapters/dataset"
	"github.com/okian/clipfuse/internal/adapters/ffmpeg"
	"github.com/okian/clipfuse/internal/adapters/http/api"
	"github.com/okian/clipfuse/internal/adapters/http/swagger"
	"github.com/okian/clipfuse/internal/adapters/loader"
	"github.com/okian/clipfuse/internal/app"
	"github.com/okian/clipfuse/internal/config"
	"github.com/okian/clipfuse/internal/domain/classifier"
	"github.com/okian/clipfuse/internal/domain/fusion"
	"github.com/okian/clipfuse/internal/domain/sampling"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		logger.Get().Error(ctx, "run failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// run loads configuration, trains, evaluates and prints the accuracy to out.
func run(ctx context.Context, out io.Writer) error {
	log := logger.Get()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	go startSystemMetricsUpdater(ctx)

	if cfg.MetricsAddr != "" {
		srv := newHTTPServer(cfg.MetricsAddr, p.service)
		go func() {
			log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "HTTP server failed", logger.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "server shutdown failed", logger.Error(err))
			}
		}()
	}

	if _, err := p.service.Train(ctx, p.train); err != nil {
		return err
	}
	accuracy, err := p.service.Evaluate(ctx, p.eval)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Accuracy: %.2f%%\n", accuracy*100)
	return err
}

// pipeline holds the wired components of one run.
type pipeline struct {
	service *app.Service
	train   *loader.Loader
	eval    *loader.Loader
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	backend := ffmpeg.NewBackend(
		ffmpeg.WithProbeCacheTTL(time.Duration(cfg.ProbeCacheTTLSeconds) * time.Second),
	)
	sampler := sampling.NewSampler(backend,
		sampling.WithFrames(cfg.Frames),
		sampling.WithFrameSize(cfg.FrameSize),
	)

	short, err := dataset.ParseShortPolicy(cfg.ShortPolicy)
	if err != nil {
		return nil, err
	}
	labels, recursive := labelPolicy(cfg)
	ds, err := dataset.New(ctx, cfg.VideoDir, sampler,
		dataset.WithExtension(cfg.Extension),
		dataset.WithLabelPolicy(labels),
		dataset.WithRecursive(recursive),
		dataset.WithShortPolicy(short),
	)
	if err != nil {
		return nil, err
	}

	train, err := loader.New(ds,
		loader.WithBatchSize(cfg.BatchSize),
		loader.WithShuffle(cfg.Shuffle),
		loader.WithSeed(cfg.Seed),
		loader.WithWorkers(cfg.DecodeWorkers),
	)
	if err != nil {
		return nil, err
	}
	eval, err := loader.New(ds,
		loader.WithBatchSize(cfg.BatchSize),
		loader.WithWorkers(cfg.DecodeWorkers),
		loader.WithLogger(logger.Named("eval-loader")),
	)
	if err != nil {
		return nil, err
	}

	mcfg, err := modelConfig(cfg)
	if err != nil {
		return nil, err
	}
	m, err := classifier.New(mcfg)
	if err != nil {
		return nil, err
	}

	svc, err := app.New(m,
		app.WithEpochs(cfg.Epochs),
		app.WithLearningRate(cfg.LearningRate),
		app.WithMomentum(cfg.Momentum),
	)
	if err != nil {
		return nil, err
	}
	mc := m.Config()
	logger.Get().Info(ctx, "pipeline ready",
		logger.String("run_id", svc.RunID()),
		logger.String("fusion", mc.Strategy.String()),
		logger.Int("classes", mc.Classes),
		logger.Int("feature_dim", mc.FeatureDim),
		logger.Int("videos", ds.Len()),
		logger.Int("batches_per_epoch", train.NumBatches()),
	)
	return &pipeline{service: svc, train: train, eval: eval}, nil
}

// labelPolicy labels by parent directory when class names are configured,
// which also makes enumeration recursive. Otherwise every video is class 0.
func labelPolicy(cfg *config.Config) (dataset.LabelPolicy, bool) {
	if len(cfg.LabelClasses) > 0 {
		return dataset.ParentDirLabel(cfg.LabelClasses), true
	}
	return dataset.ConstantLabel(0), false
}

func modelConfig(cfg *config.Config) (classifier.Config, error) {
	strategy, err := fusion.ParseStrategy(cfg.Fusion)
	if err != nil {
		return classifier.Config{}, err
	}
	return classifier.Config{
		Frames:     cfg.Frames,
		FrameSize:  cfg.FrameSize,
		FeatureDim: cfg.FeatureDim,
		Hidden:     cfg.HiddenDim,
		Classes:    cfg.Classes,
		Strategy:   strategy,
		Seed:       cfg.Seed,
	}, nil
}

func newHTTPServer(addr string, stats api.StatsProvider) *http.Server {
	mux := http.NewServeMux()
	api.NewServer(stats).Register(mux)
	swagger.Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater refreshes process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	updateSystemMetrics()
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
