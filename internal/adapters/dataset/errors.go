package dataset

import "errors"

// Sentinel kinds for dataset errors.
var (
	ErrEmptyDataset    = errors.New("no video files found")
	ErrIndexOutOfRange = errors.New("sample index out of range")
	ErrIncompleteClip  = errors.New("clip has fewer frames than requested")
	ErrSkipSample      = errors.New("sample skipped")
	ErrUnknownLabel    = errors.New("no label for video")
	ErrUnknownPolicy   = errors.New("unknown short-clip policy")
)
