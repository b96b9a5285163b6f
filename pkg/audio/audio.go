// Package audio defines the capture-side abstractions for the live-translate
// client.
//
// The central type is [Source]: a microphone-like device that produces
// fixed-size frames of signed 16-bit mono PCM samples at a fixed sample rate.
// Device-specific implementations live in subpackages (audio/portaudio); test
// code uses the scripted source in audio/mock.
package audio

import "context"

// Capture constants shared by every source implementation. The transcription
// backend expects 16 kHz mono 16-bit linear PCM; a frame of 8000 samples is
// half a second of audio.
const (
	SampleRate      = 16000
	FramesPerBuffer = 8000
	Channels        = 1
)

// Device describes an audio input device available on the host.
type Device struct {
	// Index is the host-assigned device index, stable for the lifetime of
	// the process.
	Index int

	// Name is the human-readable device name as reported by the host API.
	Name string

	// Channels is the maximum number of input channels the device supports.
	Channels int
}

// Source produces frames of signed 16-bit mono samples.
//
// Implementations must be safe for use from a single reader goroutine.
// ReadFrame blocks until a full frame is available, the context is cancelled,
// or the device fails.
type Source interface {
	// ReadFrame returns the next frame of samples. The returned slice is
	// owned by the caller; implementations must not reuse it.
	ReadFrame(ctx context.Context) ([]int16, error)

	// Close releases the underlying device. Safe to call more than once.
	Close() error
}
