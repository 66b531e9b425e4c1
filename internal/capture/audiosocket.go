package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AudioSocketSampleRate is the rate of signed linear audio on the wire
const AudioSocketSampleRate = 8000

// AudioSocket receives audio from an AudioSocket peer (for example
// Asterisk) over TCP. One peer is served at a time; its frames go to the
// open recorder and are dropped while none is open.
type AudioSocket struct {
	listener net.Listener
	log      logrus.FieldLogger
	wg       sync.WaitGroup
	shutdown chan struct{}
	dropped  atomic.Int64

	mu     sync.Mutex
	active *sink
	conn   net.Conn
	peer   uuid.UUID
}

// NewAudioSocket starts listening on addr
func NewAudioSocket(addr string, log logrus.FieldLogger) (*AudioSocket, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrDeviceUnavailable, addr, err)
	}

	a := &AudioSocket{
		listener: listener,
		log:      log.WithField("component", "audiosocket"),
		shutdown: make(chan struct{}),
	}
	a.log.Infof("AudioSocket listening on %s", listener.Addr())

	a.wg.Add(1)
	go a.acceptLoop()
	return a, nil
}

// Addr returns the listening address
func (a *AudioSocket) Addr() net.Addr {
	return a.listener.Addr()
}

// Peer returns the id of the connected peer, if any
func (a *AudioSocket) Peer() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peer, a.conn != nil
}

func (a *AudioSocket) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				return
			default:
				a.log.WithError(err).Warn("Accept error")
				continue
			}
		}

		a.mu.Lock()
		busy := a.conn != nil
		if !busy {
			a.conn = conn
		}
		a.mu.Unlock()

		if busy {
			a.log.Warnf("Rejecting %s: a peer is already connected", conn.RemoteAddr())
			conn.Close()
			continue
		}

		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

func (a *AudioSocket) handleConnection(conn net.Conn) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.peer = uuid.Nil
		a.mu.Unlock()
		conn.Close()
	}()

	id, err := audiosocket.GetID(conn)
	if err != nil {
		a.log.WithError(err).Warn("Failed to get peer ID")
		return
	}
	a.mu.Lock()
	a.peer = id
	a.mu.Unlock()

	log := a.log.WithField("peer", id.String())
	log.Infof("Peer connected from %s", conn.RemoteAddr())

	for {
		msg, err := audiosocket.NextMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("Failed to read message")
			}
			break
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			a.deliver(decodeSlin(msg.Payload()))
		case audiosocket.KindHangup:
			log.Info("Peer hung up")
			return
		case audiosocket.KindError:
			log.Warnf("Peer reported error code %d", msg.ErrorCode())
			return
		}
	}
	log.Info("Peer disconnected")
}

// deliver hands 8 kHz samples to the open recorder, upsampling to its rate
func (a *AudioSocket) deliver(samples []int16) {
	a.mu.Lock()
	s := a.active
	a.mu.Unlock()
	if s == nil {
		a.dropped.Add(int64(len(samples)))
		return
	}

	if s.rate == 2*AudioSocketSampleRate {
		samples = upsample8to16(samples)
	}
	if err := s.write(samples); err != nil && !errors.Is(err, errSinkClosed) {
		a.log.WithError(err).Warn("Failed to write audio")
	}
}

// Dropped returns how many samples arrived while no recorder was open
func (a *AudioSocket) Dropped() int64 {
	return a.dropped.Load()
}

// Open starts recording peer audio into a new WAV file. The format must be
// mono at 8 or 16 kHz.
func (a *AudioSocket) Open(path string, opts Options) (Recorder, error) {
	f := opts.Format
	if f.Channels != 1 || (f.SampleRate != 8000 && f.SampleRate != 16000) {
		return nil, fmt.Errorf("%w: AudioSocket delivers mono 8/16 kHz, got %d Hz %d ch",
			ErrDeviceUnavailable, f.SampleRate, f.Channels)
	}

	select {
	case <-a.shutdown:
		return nil, fmt.Errorf("%w: AudioSocket closed", ErrDeviceUnavailable)
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil {
		return nil, ErrDeviceBusy
	}

	s, err := newSink(path, opts)
	if err != nil {
		return nil, err
	}
	a.active = s
	return &socketRecorder{device: a, sink: s}, nil
}

func (a *AudioSocket) release(s *sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == s {
		a.active = nil
	}
}

// Close stops listening, drops the peer and waits for handlers to exit
func (a *AudioSocket) Close() error {
	select {
	case <-a.shutdown:
		return nil
	default:
	}
	close(a.shutdown)

	err := a.listener.Close()
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
	return err
}

type socketRecorder struct {
	device *AudioSocket
	sink   *sink
}

func (r *socketRecorder) AveragePower() float64 {
	return r.sink.averagePower()
}

func (r *socketRecorder) Stop() (Stats, error) {
	r.device.release(r.sink)
	return r.sink.close()
}
