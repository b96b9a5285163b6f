// Package mock provides a scripted test double for the audio package.
//
// Pre-populate Source.Frames with the frames the consumer should receive.
// When the script is exhausted, ReadFrame blocks until the context is
// cancelled (or returns ExhaustedErr when set), mimicking a microphone that
// has gone quiet.
package mock

import (
	"context"
	"sync"
)

// Source is a scripted implementation of audio.Source.
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive ReadFrame calls, in order.
	Frames [][]int16

	// ExhaustedErr, if non-nil, is returned once Frames runs out. When nil,
	// ReadFrame blocks on ctx instead.
	ExhaustedErr error

	// ReadErr, if non-nil, is returned by every ReadFrame call.
	ReadErr error

	// ReadErrs supplies one-shot errors: each ReadFrame call pops the head
	// entry first and returns it when non-nil, before consuming Frames. A
	// nil entry is skipped, which lets scripts interleave errors between
	// good frames.
	ReadErrs []error

	// ReadCalls counts ReadFrame invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	next int
}

// ReadFrame pops the next scripted frame.
func (s *Source) ReadFrame(ctx context.Context) ([]int16, error) {
	s.mu.Lock()
	s.ReadCalls++
	if s.ReadErr != nil {
		err := s.ReadErr
		s.mu.Unlock()
		return nil, err
	}
	if len(s.ReadErrs) > 0 {
		err := s.ReadErrs[0]
		s.ReadErrs = s.ReadErrs[1:]
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	if s.next < len(s.Frames) {
		frame := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		cp := make([]int16, len(frame))
		copy(cp, frame)
		return cp, nil
	}
	err := s.ExhaustedErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// Close records the call and returns nil.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}
