package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	DefaultMicSampleRate      = 48000
	DefaultMicFramesPerBuffer = 1024
)

// MicConfig selects the input device.
type MicConfig struct {
	SampleRate      float64
	FramesPerBuffer int
	// DeviceName picks an input device by name; empty uses the default.
	DeviceName string
}

// Microphone is a PortAudio input stream exposed as a single-track Stream.
type Microphone struct {
	stream     *portaudio.Stream
	sampleRate int
	samples    chan []float32

	mu      sync.Mutex
	stopped bool
	readErr error
	stopCh  chan struct{}
	readEnd chan struct{}
}

// OpenMicrophone starts capturing mono audio. Any failure to open the input
// device is reported as ErrPermission.
func OpenMicrophone(cfg MicConfig) (*Microphone, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultMicSampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultMicFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrPermission, err)
	}

	buffer := make([]float32, cfg.FramesPerBuffer)
	stream, err := openInput(cfg, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input: %v", ErrPermission, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start input: %v", ErrPermission, err)
	}

	m := &Microphone{
		stream:     stream,
		sampleRate: int(cfg.SampleRate),
		samples:    make(chan []float32, 64),
		stopCh:     make(chan struct{}),
		readEnd:    make(chan struct{}),
	}
	go m.readLoop(stream.Read, buffer)
	return m, nil
}

func openInput(cfg MicConfig, buffer []float32) (*portaudio.Stream, error) {
	if cfg.DeviceName == "" || cfg.DeviceName == "default" {
		return portaudio.OpenDefaultStream(1, 0, cfg.SampleRate, cfg.FramesPerBuffer, buffer)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == cfg.DeviceName && dev.MaxInputChannels > 0 {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: 1,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      cfg.SampleRate,
				FramesPerBuffer: cfg.FramesPerBuffer,
			}
			return portaudio.OpenStream(params, buffer)
		}
	}
	return nil, fmt.Errorf("input device not found: %s", cfg.DeviceName)
}

// Read failures other than input overflow back off between retries. After
// maxReadFailures in a row the device is treated as gone and capture ends.
const (
	readBackoffMin  = 5 * time.Millisecond
	readBackoffMax  = 250 * time.Millisecond
	maxReadFailures = 20
)

// readLoop fills buffer through read and publishes copies on m.samples until
// stop or persistent read failure. Closing m.samples ends the recording's
// capture.
func (m *Microphone) readLoop(read func() error, buffer []float32) {
	defer close(m.readEnd)
	defer close(m.samples)
	failures := 0
	backoff := readBackoffMin
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		if err := read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			failures++
			if failures >= maxReadFailures {
				m.setReadErr(fmt.Errorf("read input: %w", err))
				return
			}
			select {
			case <-m.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, readBackoffMax)
			continue
		}
		failures = 0
		backoff = readBackoffMin

		frame := make([]float32, len(buffer))
		copy(frame, buffer)
		select {
		case m.samples <- frame:
		case <-m.stopCh:
			return
		default:
			// Consumer is behind; drop the frame rather than stall the device.
		}
	}
}

func (m *Microphone) setReadErr(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Err reports why capture ended early, if the device failed.
func (m *Microphone) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readErr
}

func (m *Microphone) SampleRate() int           { return m.sampleRate }
func (m *Microphone) Channels() int             { return 1 }
func (m *Microphone) Samples() <-chan []float32 { return m.samples }
func (m *Microphone) Tracks() []Track           { return []Track{m} }

// Stop ends capture and releases the device. It is safe to call twice.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	stopErr := m.stream.Stop()
	<-m.readEnd
	closeErr := m.stream.Close()
	termErr := portaudio.Terminate()

	switch {
	case stopErr != nil:
		return fmt.Errorf("stop input: %w", stopErr)
	case closeErr != nil:
		return fmt.Errorf("close input: %w", closeErr)
	case termErr != nil:
		return fmt.Errorf("terminate portaudio: %w", termErr)
	}
	return nil
}
