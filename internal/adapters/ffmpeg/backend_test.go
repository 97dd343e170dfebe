package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/okian/clipfuse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const probeWithFrames = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "nb_frames": "900"},
    {"index": 1, "codec_type": "video", "width": 320, "height": 240,
     "avg_frame_rate": "30/1", "duration": "10.000000", "nb_frames": "300"}
  ],
  "format": {"duration": "10.020000"}
}`

const probeWithoutFrames = `{
  "streams": [
    {"codec_type": "video", "width": 640, "height": 360, "avg_frame_rate": "30000/1001"}
  ],
  "format": {"duration": "2.002000"}
}`

func init() {
	_ = logger.Init()
}

func TestParseProbe(t *testing.T) {
	Convey("Given ffprobe JSON output", t, func() {
		Convey("When the video stream records nb_frames", func() {
			info, err := ParseProbe([]byte(probeWithFrames))

			Convey("Then the video stream's count is used", func() {
				So(err, ShouldBeNil)
				So(info.FrameCount, ShouldEqual, 300)
				So(info.Width, ShouldEqual, 320)
				So(info.Height, ShouldEqual, 240)
				So(info.FrameRate, ShouldEqual, 30)
			})
		})

		Convey("When nb_frames is missing", func() {
			info, err := ParseProbe([]byte(probeWithoutFrames))

			Convey("Then it is estimated from format duration and frame rate", func() {
				So(err, ShouldBeNil)
				So(info.FrameCount, ShouldEqual, 60)
				So(info.Duration, ShouldAlmostEqual, 2.002, 1e-9)
			})
		})

		Convey("When there is no video stream", func() {
			_, err := ParseProbe([]byte(`{"streams":[{"codec_type":"audio"}]}`))

			Convey("Then ErrNoVideoStream is returned", func() {
				So(errors.Is(err, ErrNoVideoStream), ShouldBeTrue)
			})
		})

		Convey("When nothing gives a frame count", func() {
			_, err := ParseProbe([]byte(`{"streams":[{"codec_type":"video"}]}`))

			Convey("Then ErrFrameCount is returned", func() {
				So(errors.Is(err, ErrFrameCount), ShouldBeTrue)
			})
		})

		Convey("When the output is not JSON", func() {
			_, err := ParseProbe([]byte(`not json`))

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestParseRate(t *testing.T) {
	Convey("Given ffprobe rate strings", t, func() {
		So(parseRate("25"), ShouldEqual, 25)
		So(parseRate("30000/1001"), ShouldAlmostEqual, 29.97, 0.001)
		So(parseRate("0/0"), ShouldEqual, 0)
		So(parseRate("abc"), ShouldEqual, 0)
	})
}

func TestBackend_Info(t *testing.T) {
	Convey("Given a backend with a counting prober", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "clip.mp4")
		So(os.WriteFile(path, []byte("video"), 0o600), ShouldBeNil)

		calls := 0
		prober := func(string, time.Duration) (string, error) {
			calls++
			return probeWithFrames, nil
		}

		Convey("When probing the same file twice with caching enabled", func() {
			b := NewBackend(withProber(prober), WithProbeCacheTTL(time.Minute))
			n1, err1 := b.FrameCount(context.Background(), path)
			n2, err2 := b.FrameCount(context.Background(), path)

			Convey("Then ffprobe runs once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(n1, ShouldEqual, 300)
				So(n2, ShouldEqual, 300)
				So(calls, ShouldEqual, 1)
			})
		})

		Convey("When caching is disabled", func() {
			b := NewBackend(withProber(prober), WithProbeCacheTTL(0))
			_, _ = b.FrameCount(context.Background(), path)
			_, _ = b.FrameCount(context.Background(), path)

			Convey("Then ffprobe runs every time", func() {
				So(calls, ShouldEqual, 2)
			})
		})

		Convey("When ffprobe fails", func() {
			b := NewBackend(withProber(func(context.Context, string) (string, error) {
				return "", errors.New("exit status 1")
			}))
			_, err := b.FrameCount(context.Background(), path)

			Convey("Then the error names the file", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "clip.mp4")
			})
		})

		Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			b := NewBackend(withProber(prober))
			_, err := b.DecodeRGB24(ctx, path, 0, 8)

			Convey("Then no process is started", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

// fakeBinary writes an executable shell script standing in for ffmpeg or ffprobe.
func fakeBinary(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// argAfter returns the argument that follows flag, or "" when flag is absent.
func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestBackend_DecodeRGB24(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	Convey("Given a backend running a fake ffmpeg", t, func() {
		dir := t.TempDir()
		video := filepath.Join(dir, "clip.mp4")
		So(os.WriteFile(video, []byte("video"), 0o600), ShouldBeNil)
		argsFile := filepath.Join(dir, "args")

		withRate := withProber(func(context.Context, string) (string, error) {
			return probeWithFrames, nil
		})
		newBackend := func(body string, probe Option) *Backend {
			bin := fakeBinary(t, dir, "ffmpeg", `printf '%s\n' "$@" > "`+argsFile+`"`+"\n"+body)
			return NewBackend(withBinaries(bin, ""), probe)
		}

		Convey("When the stream frame rate is known", func() {
			b := newBackend("head -c 192 /dev/zero", withRate)
			raw, err := b.DecodeRGB24(context.Background(), video, 5, 8)
			args := readArgs(t, argsFile)

			Convey("Then the input is seeked to the frame and one rgb24 frame is read", func() {
				So(err, ShouldBeNil)
				So(len(raw), ShouldEqual, 8*8*3)
				So(argAfter(args, "-ss"), ShouldEqual, "0.150000")
				So(argAfter(args, "-i"), ShouldEqual, video)
				So(argAfter(args, "-filter_complex"), ShouldContainSubstring, "scale=8:8")
				So(argAfter(args, "-filter_complex"), ShouldNotContainSubstring, "select")
				So(argAfter(args, "-f"), ShouldEqual, "rawvideo")
				So(argAfter(args, "-pix_fmt"), ShouldEqual, "rgb24")
				So(argAfter(args, "-vframes"), ShouldEqual, "1")
				So(args[len(args)-1], ShouldEqual, "pipe:")
			})
		})

		Convey("When the first frame is requested", func() {
			b := newBackend("head -c 192 /dev/zero", withRate)
			_, err := b.DecodeRGB24(context.Background(), video, 0, 8)

			Convey("Then no seek is added", func() {
				So(err, ShouldBeNil)
				So(readArgs(t, argsFile), ShouldNotContain, "-ss")
			})
		})

		Convey("When the frame rate is unknown", func() {
			b := newBackend("head -c 192 /dev/zero", withProber(func(context.Context, string) (string, error) {
				return `{"streams":[{"codec_type":"video","nb_frames":"10"}]}`, nil
			}))
			_, err := b.DecodeRGB24(context.Background(), video, 5, 8)
			args := readArgs(t, argsFile)

			Convey("Then a select filter picks the frame by number", func() {
				So(err, ShouldBeNil)
				So(args, ShouldNotContain, "-ss")
				So(argAfter(args, "-filter_complex"), ShouldContainSubstring, `select=eq(n\,5)`)
				So(argAfter(args, "-filter_complex"), ShouldContainSubstring, "scale=8:8")
			})
		})

		Convey("When ffmpeg writes less than a whole frame", func() {
			b := newBackend("head -c 10 /dev/zero", withRate)
			_, err := b.DecodeRGB24(context.Background(), video, 299, 8)

			Convey("Then ErrShortFrame is returned", func() {
				So(errors.Is(err, ErrShortFrame), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "got 10 bytes, want 192")
			})
		})

		Convey("When ffmpeg exits with an error", func() {
			b := newBackend(`echo "moov atom not found" >&2; exit 1`, withRate)
			_, err := b.DecodeRGB24(context.Background(), video, 5, 8)

			Convey("Then the error carries the end of stderr", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, ErrShortFrame), ShouldBeFalse)
				So(err.Error(), ShouldContainSubstring, "moov atom not found")
				So(err.Error(), ShouldContainSubstring, "clip.mp4")
			})
		})

		Convey("When the deadline passes while ffmpeg is running", func() {
			b := newBackend("exec sleep 3", withRate)
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			start := time.Now()
			_, err := b.DecodeRGB24(ctx, video, 5, 8)

			Convey("Then the process is killed and the context error is returned", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(errors.Is(err, ErrShortFrame), ShouldBeFalse)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			})
		})
	})
}

func TestBackend_runProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffprobe is a shell script")
	}

	Convey("Given a backend running a fake ffprobe", t, func() {
		dir := t.TempDir()
		video := filepath.Join(dir, "clip.mp4")
		So(os.WriteFile(video, []byte("video"), 0o600), ShouldBeNil)
		argsFile := filepath.Join(dir, "args")

		Convey("When ffprobe answers", func() {
			bin := fakeBinary(t, dir, "ffprobe", `printf '%s\n' "$@" > "`+argsFile+`"`+"\ncat <<'JSON'\n"+probeWithFrames+"\nJSON")
			b := NewBackend(withBinaries("", bin), WithProbeCacheTTL(0))
			info, err := b.Info(context.Background(), video)
			args := readArgs(t, argsFile)

			Convey("Then the JSON for the first video stream is parsed", func() {
				So(err, ShouldBeNil)
				So(info.FrameCount, ShouldEqual, 300)
				So(argAfter(args, "-select_streams"), ShouldEqual, "v:0")
				So(argAfter(args, "-of"), ShouldEqual, "json")
				So(args[len(args)-1], ShouldEqual, video)
			})
		})

		Convey("When ffprobe fails", func() {
			bin := fakeBinary(t, dir, "ffprobe", `echo "Invalid data found" >&2; exit 1`)
			b := NewBackend(withBinaries("", bin), WithProbeCacheTTL(0))
			_, err := b.Info(context.Background(), video)

			Convey("Then its stderr is in the error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "Invalid data found")
			})
		})

		Convey("When the context deadline is shorter than the probe timeout", func() {
			bin := fakeBinary(t, dir, "ffprobe", "exec sleep 3")
			b := NewBackend(withBinaries("", bin), WithProbeCacheTTL(0), WithProbeTimeout(time.Minute))
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			start := time.Now()
			_, err := b.Info(ctx, video)

			Convey("Then the probe stops at the deadline", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			})
		})

		Convey("When the probe timeout is shorter than the context", func() {
			bin := fakeBinary(t, dir, "ffprobe", "exec sleep 3")
			b := NewBackend(withBinaries("", bin), WithProbeCacheTTL(0), WithProbeTimeout(200*time.Millisecond))
			start := time.Now()
			_, err := b.Info(context.Background(), video)

			Convey("Then the probe timeout applies", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			})
		})
	})
}

func TestTail(t *testing.T) {
	Convey("Given ffmpeg stderr output", t, func() {
		Convey("When it is short", func() {
			So(tail("  error line\n"), ShouldEqual, "error line")
		})

		Convey("When it is longer than the tail size", func() {
			long := strings.Repeat("x", 1000) + "last words"
			got := tail(long)

			Convey("Then only the last bytes are kept", func() {
				So(len(got), ShouldEqual, stderrTailBytes)
				So(got, ShouldEndWith, "last words")
			})
		})
	})
}

func TestSeekOffset(t *testing.T) {
	Convey("Given a frame index and stream rate", t, func() {
		off, ok := seekOffset(0, 30)
		So(ok, ShouldBeTrue)
		So(off, ShouldEqual, 0)

		off, ok = seekOffset(30, 30)
		So(ok, ShouldBeTrue)
		So(off, ShouldAlmostEqual, 29.5/30, 1e-12)

		_, ok = seekOffset(5, 0)
		So(ok, ShouldBeFalse)
	})
}
