package ffmpeg

import "errors"

// Sentinel kinds for video backend errors.
var (
	ErrNoVideoStream = errors.New("no video stream")
	ErrFrameCount    = errors.New("frame count unavailable")
	ErrShortFrame    = errors.New("short frame buffer")
)
