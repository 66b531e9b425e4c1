package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer is the PortAudio buffer size (32ms at 16 kHz)
const DefaultFramesPerBuffer = 512

const (
	maxReadErrors  = 20
	readRetryDelay = 10 * time.Millisecond
)

// PortAudio captures from a local input device
type PortAudio struct {
	mu              sync.Mutex
	deviceName      string
	framesPerBuffer int
	active          *paRecorder
	initialized     bool
}

// NewPortAudio initialises PortAudio. An empty or "default" device name
// selects the system default input.
func NewPortAudio(deviceName string) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudio{
		deviceName:      deviceName,
		framesPerBuffer: DefaultFramesPerBuffer,
		initialized:     true,
	}, nil
}

// Open starts a stream writing into a new WAV file at path
func (p *PortAudio) Open(path string, opts Options) (Recorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("%w: PortAudio terminated", ErrDeviceUnavailable)
	}
	if p.active != nil {
		return nil, ErrDeviceBusy
	}

	f := opts.Format
	buffer := make([]int16, p.framesPerBuffer*f.Channels)
	stream, err := p.openStream(f.Channels, float64(f.SampleRate), buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open audio stream: %v", ErrDeviceUnavailable, err)
	}

	s, err := newSink(path, opts)
	if err != nil {
		stream.Close()
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		s.close()
		return nil, fmt.Errorf("%w: failed to start audio stream: %v", ErrDeviceUnavailable, err)
	}

	rec := &paRecorder{
		device: p,
		stream: stream,
		sink:   s,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.active = rec
	go rec.captureLoop(stream.Read, buffer)

	return rec, nil
}

func (p *PortAudio) openStream(channels int, sampleRate float64, buffer []int16) (*portaudio.Stream, error) {
	if p.deviceName == "" || p.deviceName == "default" {
		return portaudio.OpenDefaultStream(channels, 0, sampleRate, p.framesPerBuffer, buffer)
	}

	device, err := findInputDevice(p.deviceName)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: p.framesPerBuffer,
	}
	return portaudio.OpenStream(params, buffer)
}

func (p *PortAudio) release(rec *paRecorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == rec {
		p.active = nil
	}
}

// Close stops any open recorder and terminates PortAudio
func (p *PortAudio) Close() error {
	p.mu.Lock()
	rec := p.active
	p.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

type paRecorder struct {
	device   *PortAudio
	stream   *portaudio.Stream
	sink     *sink
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stats    Stats
	err      error
	readErr  error
}

// captureLoop reads buffers until stopped. Input overflows are ignored;
// other read errors are retried with a short delay and end the loop
// after maxReadErrors in a row.
func (r *paRecorder) captureLoop(read func() error, buffer []int16) {
	defer close(r.done)
	failures := 0
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		if err := read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			failures++
			if failures >= maxReadErrors {
				r.readErr = fmt.Errorf("%w: reading audio stream: %v", ErrDeviceUnavailable, err)
				return
			}
			select {
			case <-r.stop:
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		failures = 0
		samples := make([]int16, len(buffer))
		copy(samples, buffer)
		if err := r.sink.write(samples); err != nil {
			return
		}
	}
}

func (r *paRecorder) AveragePower() float64 {
	return r.sink.averagePower()
}

func (r *paRecorder) Stop() (Stats, error) {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done

		var errs []error
		if r.readErr != nil {
			errs = append(errs, r.readErr)
		}
		if err := r.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audio stream: %w", err))
		}
		if err := r.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audio stream: %w", err))
		}
		stats, err := r.sink.close()
		if err != nil {
			errs = append(errs, err)
		}
		r.stats = stats
		if len(errs) > 0 {
			r.err = errs[0]
		}
		r.device.release(r)
	})
	return r.stats, r.err
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// DeviceInfo describes an input device
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices returns the available PortAudio input devices
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, DeviceInfo{
				Name:              dev.Name,
				MaxInputChannels:  dev.MaxInputChannels,
				DefaultSampleRate: dev.DefaultSampleRate,
				IsDefault:         dev.Name == defaultName,
			})
		}
	}
	return inputs, nil
}
