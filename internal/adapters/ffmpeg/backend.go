// Package ffmpeg reads video metadata and single frames through the ffmpeg
// and ffprobe binaries.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/okian/clipfuse/pkg/logger"
	"github.com/okian/clipfuse/pkg/metrics"
	"github.com/patrickmn/go-cache"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// Default backend configuration constants.
const (
	defaultProbeTTL     = 5 * time.Minute
	defaultProbeTimeout = 30 * time.Second
	stderrTailBytes     = 512
)

// ffmpeg-go logs every compiled command through the standard log package.
var silenceOnce sync.Once

// VideoInfo is what the backend knows about a video stream.
type VideoInfo struct {
	Width      int
	Height     int
	FrameCount int
	Duration   float64
	FrameRate  float64
}

// Backend implements sampling.FrameSource on top of ffmpeg.
type Backend struct {
	probeTTL     time.Duration
	probeTimeout time.Duration
	cache        *cache.Cache
	ffmpegBin    string
	ffprobeBin   string
	probe        func(ctx context.Context, path string) (string, error)
	logger       logger.Logger
}

// NewBackend creates a Backend.
func NewBackend(opts ...Option) *Backend {
	silenceOnce.Do(func() { ffmpeggo.LogCompiledCommand = false })

	b := &Backend{
		probeTTL:     defaultProbeTTL,
		probeTimeout: defaultProbeTimeout,
		ffmpegBin:    "ffmpeg",
		ffprobeBin:   "ffprobe",
	}
	b.probe = b.runProbe
	for _, opt := range opts {
		opt(b)
	}
	if b.probeTTL > 0 {
		b.cache = cache.New(b.probeTTL, 2*b.probeTTL)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("ffmpeg")
	}
	return b
}

// runProbe runs ffprobe bound to ctx and the probe timeout, whichever ends first.
func (b *Backend) runProbe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	args := ffmpeggo.ConvertKwargsToCmdLineArgs(ffmpeggo.KwArgs{
		"v":              "error",
		"show_format":    "",
		"show_streams":   "",
		"select_streams": "v:0",
		"of":             "json",
	})
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.ffprobeBin, append(args, path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s", err, tail(stderr.String()))
	}
	return stdout.String(), nil
}

// Info probes path, reusing a cached result while the file is unchanged.
func (b *Backend) Info(ctx context.Context, path string) (VideoInfo, error) {
	if err := ctx.Err(); err != nil {
		return VideoInfo{}, err
	}

	key := ""
	if b.cache != nil {
		if st, err := os.Stat(path); err == nil {
			key = path + "|" + strconv.FormatInt(st.ModTime().UnixNano(), 10) + "|" + strconv.FormatInt(st.Size(), 10)
			if v, ok := b.cache.Get(key); ok {
				metrics.RecordProbeCache(true)
				return v.(VideoInfo), nil
			}
			metrics.RecordProbeCache(false)
		}
	}

	out, err := b.probe(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, ctxErr)
		}
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	info, err := ParseProbe([]byte(out))
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	if key != "" {
		b.cache.Set(key, info, cache.DefaultExpiration)
	}
	b.logger.Debug(ctx, "probed video",
		logger.String("path", path),
		logger.Int("frames", info.FrameCount),
		logger.Int("width", info.Width),
		logger.Int("height", info.Height),
	)
	return info, nil
}

// FrameCount returns the frame count reported for the first video stream.
func (b *Backend) FrameCount(ctx context.Context, path string) (int, error) {
	info, err := b.Info(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.FrameCount, nil
}

// DecodeRGB24 decodes frame index of path, scaled to size x size, as packed rgb24.
// When the frame rate is known the input is seeked to the frame so only the
// frames after the nearest keyframe are decoded; otherwise a select filter
// scans from the start.
func (b *Backend) DecodeRGB24(ctx context.Context, path string, index, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rate float64
	if info, err := b.Info(ctx, path); err == nil {
		rate = info.FrameRate
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var filtered *ffmpeggo.Stream
	if off, ok := seekOffset(index, rate); ok {
		kw := ffmpeggo.KwArgs{}
		if off > 0 {
			kw["ss"] = strconv.FormatFloat(off, 'f', 6, 64)
		}
		filtered = ffmpeggo.Input(path, kw)
	} else {
		filtered = ffmpeggo.Input(path).Filter("select", ffmpeggo.Args{fmt.Sprintf("eq(n,%d)", index)})
	}
	filtered = filtered.Filter("scale", ffmpeggo.Args{fmt.Sprintf("%d:%d", size, size)})

	var stdout, stderr bytes.Buffer
	stream := ffmpeggo.OutputContext(ctx, []*ffmpeggo.Stream{filtered}, "pipe:", ffmpeggo.KwArgs{
		"vframes": 1,
		"vsync":   "0",
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
	}).
		SetFfmpegPath(b.ffmpegBin).
		WithOutput(&stdout, &stderr)

	b.logger.Debug(ctx, "decode frame",
		logger.String("path", path),
		logger.Int("index", index),
		logger.String("args", strings.Join(stream.GetArgs(), " ")),
	)

	err := stream.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("ffmpeg frame %d of %s: %w", index, path, ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame %d of %s: %w: %s", index, path, err, tail(stderr.String()))
	}

	want := size * size * 3
	if stdout.Len() < want {
		return nil, fmt.Errorf("%w: frame %d of %s: got %d bytes, want %d", ErrShortFrame, index, path, stdout.Len(), want)
	}
	return stdout.Bytes()[:want], nil
}

// seekOffset is the input seek, in seconds, that lands on frame index of a
// constant rate stream. It aims half a frame early so rounding of the frame
// timestamps cannot skip past the frame. ok is false when rate is unknown.
func seekOffset(index int, rate float64) (float64, bool) {
	if rate <= 0 {
		return 0, false
	}
	if index <= 0 {
		return 0, true
	}
	return (float64(index) - 0.5) / rate, true
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		return s[len(s)-stderrTailBytes:]
	}
	return s
}

// ParseProbe extracts VideoInfo from ffprobe's JSON output. The frame count
// comes from nb_frames when the container records it, otherwise it is
// estimated from duration and average frame rate.
func ParseProbe(data []byte) (VideoInfo, error) {
	root, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("parse probe output: %w", err)
	}
	streams, err := root.GetObjectArray("streams")
	if err != nil {
		return VideoInfo{}, ErrNoVideoStream
	}

	var stream *jason.Object
	for _, s := range streams {
		if kind, _ := s.GetString("codec_type"); kind == "video" {
			stream = s
			break
		}
	}
	if stream == nil {
		return VideoInfo{}, ErrNoVideoStream
	}

	var info VideoInfo
	if w, err := stream.GetInt64("width"); err == nil {
		info.Width = int(w)
	}
	if h, err := stream.GetInt64("height"); err == nil {
		info.Height = int(h)
	}
	if r, err := stream.GetString("avg_frame_rate"); err == nil {
		info.FrameRate = parseRate(r)
	}
	if info.FrameRate == 0 {
		if r, err := stream.GetString("r_frame_rate"); err == nil {
			info.FrameRate = parseRate(r)
		}
	}
	if d, err := stream.GetString("duration"); err == nil {
		info.Duration, _ = strconv.ParseFloat(d, 64)
	}
	if info.Duration == 0 {
		if d, err := root.GetString("format", "duration"); err == nil {
			info.Duration, _ = strconv.ParseFloat(d, 64)
		}
	}

	if nb, err := stream.GetString("nb_frames"); err == nil {
		if n, err := strconv.Atoi(nb); err == nil && n > 0 {
			info.FrameCount = n
			return info, nil
		}
	}
	if info.Duration > 0 && info.FrameRate > 0 {
		info.FrameCount = int(math.Round(info.Duration * info.FrameRate))
		return info, nil
	}
	return info, ErrFrameCount
}

// parseRate parses ffprobe rates like "30000/1001" or "25".
func parseRate(r string) float64 {
	num, den, found := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
