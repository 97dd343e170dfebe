package app

import (
	"github.com/okian/clipfuse/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithEpochs sets the number of training passes.
func WithEpochs(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.epochs = n
		}
	}
}

// WithLearningRate sets the SGD learning rate.
func WithLearningRate(lr float64) Option {
	return func(s *Service) {
		if lr > 0 {
			s.learningRate = lr
		}
	}
}

// WithMomentum sets the SGD momentum. Zero is plain SGD.
func WithMomentum(m float64) Option {
	return func(s *Service) {
		if m >= 0 && m < 1 {
			s.momentum = m
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.runID = id
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
