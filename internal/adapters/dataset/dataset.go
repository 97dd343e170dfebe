// Package dataset exposes a directory of videos as an indexed collection of
// labelled, fixed-length frame sequences.
package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/okian/clipfuse/internal/domain/model"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
)

const defaultExtension = ".mp4"

// Sampler turns a video path into a clip.
type Sampler interface {
	Sample(ctx context.Context, path string) (model.Clip, error)
}

// Dataset is a directory of videos. Frames are decoded on every Get.
type Dataset struct {
	dir       string
	ext       string
	recursive bool
	paths     []string
	sampler   Sampler
	labels    LabelPolicy
	short     ShortPolicy
	logger    logger.Logger
}

// New enumerates the video files in dir. Files are sorted by path so
// indices are stable across runs.
func New(ctx context.Context, dir string, sampler Sampler, opts ...Option) (*Dataset, error) {
	d := &Dataset{
		dir:     dir,
		ext:     defaultExtension,
		sampler: sampler,
		labels:  ConstantLabel(0),
		short:   Pad,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("dataset")
	}

	paths, err := d.enumerate()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s (*%s)", ErrEmptyDataset, dir, d.ext)
	}
	d.paths = paths

	metrics.UpdateDatasetSize(len(paths))
	d.logger.Info(ctx, "dataset ready",
		logger.String("dir", dir),
		logger.String("extension", d.ext),
		logger.Int("videos", len(paths)),
		logger.String("short_policy", d.short.String()),
	)
	return d, nil
}

func (d *Dataset) matches(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == d.ext
}

func (d *Dataset) enumerate() ([]string, error) {
	var paths []string
	if !d.recursive {
		entries, err := os.ReadDir(d.dir)
		if err != nil {
			return nil, fmt.Errorf("read video dir: %w", err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && d.matches(e.Name()) {
				paths = append(paths, filepath.Join(d.dir, e.Name()))
			}
		}
		sort.Strings(paths)
		return paths, nil
	}

	err := filepath.WalkDir(d.dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.Type().IsRegular() && d.matches(e.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk video dir: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Len returns the number of videos.
func (d *Dataset) Len() int { return len(d.paths) }

// Path returns the path of video i.
func (d *Dataset) Path(i int) string { return d.paths[i] }

// Get samples video i and labels it. Clips short of the frame count are
// handled according to the dataset's ShortPolicy.
func (d *Dataset) Get(ctx context.Context, i int) (model.Sample, error) {
	if i < 0 || i >= len(d.paths) {
		return model.Sample{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(d.paths))
	}
	path := d.paths[i]

	label, err := d.labels.Label(path)
	if err != nil {
		return model.Sample{}, err
	}

	clip, err := d.sampler.Sample(ctx, path)
	if err != nil {
		return model.Sample{}, err
	}

	sample := model.Sample{Path: path, Frames: clip.Frames, Label: label}
	if clip.Complete() {
		return sample, nil
	}

	switch d.short {
	case Skip:
		metrics.RecordSampleSkipped()
		return model.Sample{}, shortError(ErrSkipSample, clip)
	case Pad:
		if len(clip.Frames) > 0 {
			last := clip.Frames[len(clip.Frames)-1]
			for len(sample.Frames) < clip.Requested {
				sample.Frames = append(sample.Frames, last.Clone())
			}
			sample.Padded = true
			d.logger.Debug(ctx, "padded short clip",
				logger.String("path", path),
				logger.Int("decoded", len(clip.Frames)),
				logger.Int("requested", clip.Requested),
			)
			return sample, nil
		}
	}
	return model.Sample{}, shortError(ErrIncompleteClip, clip)
}

func shortError(kind error, clip model.Clip) error {
	if clip.Err == nil {
		return fmt.Errorf("%w: %s: %d of %d frames", kind, clip.Path, len(clip.Frames), clip.Requested)
	}
	return fmt.Errorf("%w: %s: %d of %d frames: %w", kind, clip.Path, len(clip.Frames), clip.Requested, clip.Err)
}
