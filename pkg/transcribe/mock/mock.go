// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Provider to verify that the caller opens streams with the expected
// StreamConfig, and Stream to feed scripted Result values and inspect the
// audio chunks that were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/stevehaskew/live-translate/pkg/transcribe"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Cfg transcribe.StreamConfig
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Streams are returned by successive StartStream calls. When the list is
	// exhausted the last entry is reused; when empty a fresh default Stream
	// is returned.
	Streams []*Stream

	// StartErrs, if non-empty, supplies per-call errors: StartStream call n
	// returns StartErrs[n] when n is in range and the entry is non-nil.
	StartErrs []error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns the next scripted stream or error.
func (p *Provider) StartStream(_ context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.StartStreamCalls)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})

	if n < len(p.StartErrs) && p.StartErrs[n] != nil {
		return nil, p.StartErrs[n]
	}
	if len(p.Streams) == 0 {
		return NewStream(), nil
	}
	if n < len(p.Streams) {
		return p.Streams[n], nil
	}
	return p.Streams[len(p.Streams)-1], nil
}

// Calls returns the number of StartStream invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

var _ transcribe.Provider = (*Provider)(nil)

// Stream is a scripted implementation of transcribe.Stream. Tests own the
// ResultsCh channel: send the events the consumer should see, then close it
// (optionally setting StreamErr first to simulate a failed call).
type Stream struct {
	mu sync.Mutex

	// ResultsCh is the channel returned by Results. Tests send to and close it.
	ResultsCh chan transcribe.Result

	// SendErr, if non-nil, is returned by every SendAudio call.
	SendErr error

	// StreamErr is returned by Err once ResultsCh is closed.
	StreamErr error

	// SendCalls records a copy of every chunk passed to SendAudio.
	SendCalls [][]byte

	// CloseSendCalls counts CloseSend invocations.
	CloseSendCalls int
}

// NewStream returns a Stream with a buffered ResultsCh ready for scripting.
func NewStream() *Stream {
	return &Stream{ResultsCh: make(chan transcribe.Result, 16)}
}

// SendAudio records the chunk and returns SendErr.
func (s *Stream) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendCalls = append(s.SendCalls, cp)
	return s.SendErr
}

// Results returns the scripted event channel.
func (s *Stream) Results() <-chan transcribe.Result { return s.ResultsCh }

// Err returns the scripted terminal error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// SetErr sets the terminal error returned by Err. Call before closing ResultsCh.
func (s *Stream) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StreamErr = err
}

// CloseSend records the call and returns nil.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseSendCalls++
	return nil
}

// Sent returns the number of chunks delivered via SendAudio.
func (s *Stream) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendCalls)
}

var _ transcribe.Stream = (*Stream)(nil)
