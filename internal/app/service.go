// Package app runs training and evaluation of a video classifier over
// batches produced by the loader.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/clipfuse/internal/adapters/loader"
	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/internal/domain/nn"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
)

// Default training configuration constants.
const (
	defaultEpochs       = 10
	defaultLearningRate = 0.001
)

// ErrNoModel is returned when the service is built without a classifier.
var ErrNoModel = errors.New("no classifier")

// Classifier is the model being trained.
type Classifier interface {
	Forward(b model.Batch) ([][]float64, error)
	Predict(b model.Batch) ([]int, error)
	Backward(dy [][]float64)
	Params() []*nn.Param
}

// BatchSource produces one pass of batches per call.
type BatchSource interface {
	Batches(ctx context.Context) <-chan loader.Result
}

// Phase is the stage of a run.
type Phase string

// Run phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseTraining   Phase = "training"
	PhaseEvaluating Phase = "evaluating"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Service trains and evaluates one classifier.
type Service struct {
	mu sync.RWMutex

	model     Classifier
	optimizer *nn.SGD

	// Configuration
	epochs       int
	learningRate float64
	momentum     float64
	runID        string

	// Progress
	phase     Phase
	epoch     int
	steps     int
	lastLoss  float64
	epochLoss []float64
	accuracy  float64
	evaluated bool
	startedAt time.Time

	logger logger.Logger
}

// New constructs a Service around m.
func New(m Classifier, opts ...Option) (*Service, error) {
	if m == nil {
		return nil, ErrNoModel
	}
	s := &Service{
		model:        m,
		epochs:       defaultEpochs,
		learningRate: defaultLearningRate,
		runID:        uuid.NewString(),
		phase:        PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("app")
	}
	s.logger = s.logger.With(logger.String("run_id", s.runID))
	s.optimizer = nn.NewSGD(m.Params(), s.learningRate, s.momentum)
	return s, nil
}

// RunID identifies this run in logs and stats.
func (s *Service) RunID() string { return s.runID }

func (s *Service) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	if p == PhaseTraining && s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	s.mu.Unlock()
}

// Train runs the configured number of epochs. Each batch is one SGD step:
// forward, mean cross-entropy, backward, update, zero gradients. It returns
// the mean batch loss of every epoch.
func (s *Service) Train(ctx context.Context, data BatchSource) ([]float64, error) {
	s.setPhase(PhaseTraining)
	s.logger.Info(ctx, "training started",
		logger.Int("epochs", s.epochs),
		logger.Float64("learning_rate", s.learningRate),
		logger.Float64("momentum", s.momentum),
	)

	losses := make([]float64, 0, s.epochs)
	for epoch := 1; epoch <= s.epochs; epoch++ {
		s.mu.Lock()
		s.epoch = epoch
		s.mu.Unlock()
		metrics.UpdateEpoch(epoch)

		began := time.Now()
		mean, batches, err := s.trainEpoch(ctx, data)
		if err != nil {
			s.setPhase(PhaseFailed)
			metrics.RecordErrorByComponent("app", "train")
			s.logger.Error(ctx, "training failed", logger.Int("epoch", epoch), logger.Error(err))
			return losses, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		losses = append(losses, mean)

		s.mu.Lock()
		s.epochLoss = append(s.epochLoss, mean)
		s.mu.Unlock()

		s.logger.Info(ctx, "epoch finished",
			logger.Int("epoch", epoch),
			logger.Int("batches", batches),
			logger.Float64("mean_loss", mean),
			logger.Duration("elapsed", time.Since(began)),
		)
	}
	return losses, nil
}

func (s *Service) trainEpoch(ctx context.Context, data BatchSource) (float64, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sum float64
	var n int
	for r := range data.Batches(ctx) {
		if r.Err != nil {
			return 0, n, r.Err
		}
		loss, err := s.step(r.Batch)
		if err != nil {
			return 0, n, err
		}
		sum += loss
		n++
	}
	if err := ctx.Err(); err != nil {
		return 0, n, err
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (s *Service) step(b model.Batch) (float64, error) {
	began := time.Now()
	scores, err := s.model.Forward(b)
	if err != nil {
		return 0, err
	}
	loss, dy, err := nn.SoftmaxCrossEntropy(scores, b.Labels())
	if err != nil {
		return 0, err
	}
	s.model.Backward(dy)
	s.optimizer.Step()
	s.optimizer.ZeroGrad()

	s.mu.Lock()
	s.steps++
	s.lastLoss = loss
	s.mu.Unlock()
	metrics.RecordTrainStep(loss, time.Since(began))
	return loss, nil
}

// Evaluate returns the fraction of samples whose highest score is their
// label. A pass with no samples has accuracy 0.
func (s *Service) Evaluate(ctx context.Context, data BatchSource) (float64, error) {
	s.setPhase(PhaseEvaluating)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var correct, total int
	for r := range data.Batches(ctx) {
		if r.Err != nil {
			return s.failEval(ctx, r.Err)
		}
		preds, err := s.model.Predict(r.Batch)
		if err != nil {
			return s.failEval(ctx, err)
		}
		labels := r.Batch.Labels()
		hits := 0
		for i, p := range preds {
			if p == labels[i] {
				hits++
			}
		}
		correct += hits
		total += len(labels)
		metrics.RecordEvalBatch(hits, len(labels))
	}
	if err := ctx.Err(); err != nil {
		return s.failEval(ctx, err)
	}

	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	s.mu.Lock()
	s.accuracy = accuracy
	s.evaluated = true
	s.phase = PhaseDone
	s.mu.Unlock()
	metrics.UpdateAccuracy(accuracy)

	s.logger.Info(ctx, "evaluation finished",
		logger.Int("correct", correct),
		logger.Int("total", total),
		logger.Float64("accuracy", accuracy),
	)
	return accuracy, nil
}

func (s *Service) failEval(ctx context.Context, err error) (float64, error) {
	s.setPhase(PhaseFailed)
	metrics.RecordErrorByComponent("app", "evaluate")
	s.logger.Error(ctx, "evaluation failed", logger.Error(err))
	return 0, fmt.Errorf("evaluate: %w", err)
}

// GetStats returns run progress for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"run_id":        s.runID,
		"phase":         string(s.phase),
		"epoch":         s.epoch,
		"epochs":        s.epochs,
		"steps":         s.steps,
		"learning_rate": s.optimizer.LearningRate(),
		"momentum":      s.momentum,
	}
	if s.steps > 0 {
		stats["last_loss"] = s.lastLoss
	}
	if len(s.epochLoss) > 0 {
		stats["epoch_loss"] = append([]float64(nil), s.epochLoss...)
	}
	if s.evaluated {
		stats["accuracy"] = s.accuracy
	}
	if !s.startedAt.IsZero() {
		stats["started_at"] = s.startedAt.UTC().Format(time.RFC3339)
		stats["uptime_seconds"] = time.Since(s.startedAt).Seconds()
	}
	return stats
}
