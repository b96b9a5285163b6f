// Package transcribe defines the Provider interface for streaming
// speech-recognition backends.
//
// A provider opens one bidirectional [Stream] per session attempt: raw PCM
// audio goes in, transcription results come out. The interface is
// deliberately narrow so that the session orchestration can be tested against
// the fake backend in transcribe/mock without touching the network.
//
// Implementations must be safe for one sending goroutine and one receiving
// goroutine operating concurrently on the same Stream.
package transcribe

import "context"

// Credentials is the delegated credential set used to sign a streaming call.
// A nil *Credentials in [StreamConfig] means the provider's own ambient
// credential chain (local-credentials mode).
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// StreamConfig describes the audio format and recognition settings for one
// streaming call.
type StreamConfig struct {
	// Language is the BCP-47 recognition language tag (e.g. "en-US").
	Language string

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Credentials signs the call. Nil selects the provider's default
	// credential chain.
	Credentials *Credentials
}

// Result is one transcription event emitted by the backend.
type Result struct {
	// Text is the recognised transcript for this event.
	Text string

	// IsPartial marks tentative results that a later event will revise.
	// Only non-partial results are authoritative.
	IsPartial bool
}

// Stream is an open streaming transcription call.
type Stream interface {
	// SendAudio delivers one chunk of raw little-endian PCM bytes to the
	// backend. Returns an error if the inbound stream is closed or the call
	// has failed.
	SendAudio(ctx context.Context, chunk []byte) error

	// Results returns the channel of transcription events, closed when the
	// backend ends the call or the call fails. Events arrive in backend
	// order.
	Results() <-chan Result

	// Err returns the terminal stream error, if any. Only meaningful after
	// Results is closed.
	Err() error

	// CloseSend closes the inbound audio stream, telling the backend no
	// more audio is coming. Safe to call more than once.
	CloseSend() error
}

// Provider opens streaming transcription calls.
type Provider interface {
	// StartStream opens a new streaming call. The caller owns the returned
	// Stream and must call CloseSend (and drain Results) when done.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
