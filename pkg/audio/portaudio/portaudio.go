// Package portaudio implements audio.Source on top of the PortAudio host API.
//
// The package owns PortAudio initialisation: [Open] initialises the library
// and Capture.Close terminates it. Only one Capture may be open at a time.
package portaudio

import (
	"context"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/stevehaskew/live-translate/pkg/audio"
)

// ListDevices returns all audio input devices known to the host, in index
// order. Output-only devices are omitted.
func ListDevices() ([]audio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}

	var devices []audio.Device
	for i, info := range all {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, audio.Device{
			Index:    i,
			Name:     info.Name,
			Channels: info.MaxInputChannels,
		})
	}
	return devices, nil
}

// FindDeviceByName returns the index of the input device with the given
// name, or an error if no such device exists.
func FindDeviceByName(name string) (int, error) {
	devices, err := ListDevices()
	if err != nil {
		return -1, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d.Index, nil
		}
	}
	return -1, fmt.Errorf("portaudio: input device %q not found", name)
}

// Config configures an [Open] call. Zero values fall back to the package
// defaults in [audio].
type Config struct {
	// DeviceIndex selects the input device. Negative means the host default.
	DeviceIndex int

	// SampleRate in Hz. Default: audio.SampleRate.
	SampleRate int

	// FramesPerBuffer is the frame size in samples. Default: audio.FramesPerBuffer.
	FramesPerBuffer int
}

// Capture is a live PortAudio input stream implementing [audio.Source].
type Capture struct {
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// Open initialises PortAudio and opens an input stream on the configured
// device. The caller must call Close to release the device and the library.
func Open(cfg Config) (*Capture, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.FramesPerBuffer == 0 {
		cfg.FramesPerBuffer = audio.FramesPerBuffer
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	device, err := inputDevice(cfg.DeviceIndex)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = audio.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	buf := make([]int16, cfg.FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	return &Capture{stream: stream, buf: buf}, nil
}

// inputDevice resolves a device index to PortAudio device info. A negative
// index selects the host default input device.
func inputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return device, nil
	}

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if index >= len(all) {
		return nil, fmt.Errorf("portaudio: device index %d out of range (have %d devices)", index, len(all))
	}
	return all[index], nil
}

// ReadFrame blocks until the device fills one frame, then returns a copy of
// the samples. The underlying PortAudio read is not interruptible; ctx is
// checked between frames, so cancellation latency is bounded by the frame
// duration (0.5s at the defaults).
func (c *Capture) ReadFrame(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("portaudio: read frame: %w", err)
	}
	frame := make([]int16, len(c.buf))
	copy(frame, c.buf)
	return frame, nil
}

// Close stops the stream and terminates PortAudio. Safe to call more than once.
func (c *Capture) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.stream.Stop()
	err := c.stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("portaudio: close stream: %w", err)
	}
	return nil
}

// Calibrate lets the device settle for the given duration, discarding frames.
// Speech recognisers behave noticeably better when the first forwarded frame
// is not the device power-on transient.
func (c *Capture) Calibrate(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := c.ReadFrame(ctx); err != nil {
			return fmt.Errorf("portaudio: calibrate: %w", err)
		}
	}
	return nil
}

var _ audio.Source = (*Capture)(nil)
