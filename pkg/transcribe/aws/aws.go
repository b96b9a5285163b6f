// Package aws implements transcribe.Provider on top of AWS Transcribe
// Streaming. It signs each call either with delegated session credentials
// handed over per stream, or with the ambient AWS credential chain when the
// client runs in local-credentials mode.
package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/stevehaskew/live-translate/pkg/transcribe"
)

// Provider implements transcribe.Provider backed by AWS Transcribe Streaming.
type Provider struct {
	region string
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithRegion sets the default AWS region used when a stream's credentials do
// not carry one.
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// New creates an AWS Transcribe Streaming provider.
func New(opts ...Option) *Provider {
	p := &Provider{region: "us-east-1"}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartStream opens one streaming transcription call with the backend.
func (p *Provider) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	awsCfg, err := p.awsConfig(ctx, cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}

	client := transcribestreaming.NewFromConfig(awsCfg)
	out, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(cfg.Language),
		MediaSampleRateHertz: aws.Int32(int32(cfg.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("aws: start stream transcription: %w", err)
	}

	s := &stream{
		es:      out.GetStream(),
		results: make(chan transcribe.Result, 16),
	}
	go s.pump()
	return s, nil
}

// awsConfig builds the SDK config for one call. Delegated credentials become
// a static provider; nil credentials fall back to the default chain.
func (p *Provider) awsConfig(ctx context.Context, creds *transcribe.Credentials) (aws.Config, error) {
	if creds == nil {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	}

	region := creds.Region
	if region == "" {
		region = p.region
	}
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		),
	}, nil
}

// stream adapts the SDK's bidirectional event stream to transcribe.Stream.
type stream struct {
	es      *transcribestreaming.StartStreamTranscriptionEventStream
	results chan transcribe.Result

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// pump converts backend transcript events into Result values until the event
// stream ends, then records the terminal error (if any) and closes Results.
func (s *stream) pump() {
	defer close(s.results)

	for event := range s.es.Events() {
		te, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}
		for _, result := range te.Value.Transcript.Results {
			if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == nil {
				continue
			}
			s.results <- transcribe.Result{
				Text:      *result.Alternatives[0].Transcript,
				IsPartial: result.IsPartial,
			}
		}
	}

	if err := s.es.Err(); err != nil {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
	}
}

// SendAudio forwards one PCM chunk to the backend's inbound audio stream.
func (s *stream) SendAudio(ctx context.Context, chunk []byte) error {
	err := s.es.Send(ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: chunk},
	})
	if err != nil {
		return fmt.Errorf("aws: send audio chunk: %w", err)
	}
	return nil
}

// Results returns the transcription event channel.
func (s *stream) Results() <-chan transcribe.Result { return s.results }

// Err returns the terminal stream error, if any.
func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// CloseSend closes the inbound audio stream.
func (s *stream) CloseSend() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.es.Close()
	})
	return err
}

var _ transcribe.Provider = (*Provider)(nil)
