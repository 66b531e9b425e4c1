package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/capture"
	"github.com/amanullahtanweer/speaker-recognizer/internal/events"
	"github.com/amanullahtanweer/speaker-recognizer/internal/metrics"
	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/amanullahtanweer/speaker-recognizer/internal/vad"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")
	ErrIdle   = errors.New("session is not recording")
)

const transcodeTimeout = 2 * time.Minute

type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

type (
	Submitter interface {
		Submit(seg segment.Segment)
		Skip(seg segment.Segment)
	}

	Publisher interface {
		Publish(events.Event)
	}

	Allocator interface {
		Allocate(prefix, ext string) (string, error)
	}

	Transcoder interface {
		Transcode(ctx context.Context, src, dst string, format segment.Format) error
	}
)

type Config struct {
	Format           segment.Format
	Prefix           string
	RotationInterval time.Duration
	LevelInterval    time.Duration

	// Gate classifies frames as speech; with SkipSilent, segments
	// without any voiced frame are not uploaded
	Gate       vad.Gate
	SkipSilent bool
}

type Option func(*Session)

func WithTranscoder(t Transcoder) Option {
	return func(s *Session) { s.transcoder = t }
}

func WithMetrics(m *metrics.SessionMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRotate
	cmdClose
)

type command struct {
	kind   cmdKind
	submit bool
	reply  chan error
}

type recording struct {
	seg segment.Segment
	rec capture.Recorder
}

// Session records audio in consecutive segments and hands each
// finished segment to the uploader. All state transitions happen on
// a single loop goroutine; the exported methods are safe for concurrent
// use.
type Session struct {
	cfg        Config
	device     capture.Device
	store      Allocator
	uploader   Submitter
	hub        Publisher
	transcoder Transcoder
	metrics    *metrics.SessionMetrics
	log        logrus.FieldLogger

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	pending   sync.WaitGroup

	// owned by the loop goroutine
	state    State
	current  *recording
	level    *Interval
	rotation *Interval

	mu      sync.RWMutex
	snap    State
	snapSeg segment.Segment
}

func New(cfg Config, device capture.Device, store Allocator, uploader Submitter, hub Publisher, log logrus.FieldLogger, opts ...Option) (*Session, error) {
	if cfg.RotationInterval <= 0 {
		return nil, fmt.Errorf("rotation interval must be positive, got %v", cfg.RotationInterval)
	}
	if cfg.LevelInterval <= 0 {
		return nil, fmt.Errorf("level interval must be positive, got %v", cfg.LevelInterval)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "recording"
	}

	s := &Session{
		cfg:      cfg,
		device:   device,
		store:    store,
		uploader: uploader,
		hub:      hub,
		log:      log,
		cmds:     make(chan command),
		done:     make(chan struct{}),
		level:    NewInterval(cfg.LevelInterval),
		rotation: NewInterval(cfg.RotationInterval),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Format.Encoding == segment.EncodingAAC && s.transcoder == nil {
		return nil, errors.New("aac encoding requires a transcoder")
	}

	go s.run()
	return s, nil
}

// Start begins recording a new segment. A segment that is already
// recording is stopped first and not uploaded. On error the session is
// Idle.
func (s *Session) Start() error {
	return s.do(command{kind: cmdStart})
}

// Stop ends the current segment and uploads it when submit is set.
// Stopping an idle session only logs a warning. The segment reaches the
// uploader after it is transcoded, so call Wait before draining uploads.
func (s *Session) Stop(submit bool) {
	s.do(command{kind: cmdStop, submit: submit})
}

// Rotate closes the current segment early and starts the next one, as
// the rotation interval does. It returns ErrIdle when not recording.
func (s *Session) Rotate() error {
	return s.do(command{kind: cmdRotate})
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Current returns the segment being recorded
func (s *Session) Current() (segment.Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapSeg, s.snap == Recording
}

// Wait blocks until every segment stopped so far has been finalized
// and handed to the uploader
func (s *Session) Wait() {
	s.pending.Wait()
}

// Close stops recording without uploading and ends the loop
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.do(command{kind: cmdClose})
	})
	<-s.done
	s.pending.Wait()
}

func (s *Session) do(c command) error {
	c.reply = make(chan error, 1)
	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrClosed
	}
	return <-c.reply
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case c := <-s.cmds:
			switch c.kind {
			case cmdStart:
				c.reply <- s.start()
			case cmdStop:
				s.stop(c.submit)
				c.reply <- nil
			case cmdRotate:
				c.reply <- s.rotate()
			case cmdClose:
				if s.state == Recording {
					s.stop(false)
				}
				c.reply <- nil
				return
			}
		case <-s.level.C():
			s.emitLevel()
		case <-s.rotation.C():
			if err := s.rotate(); err != nil {
				s.log.WithError(err).Warn("Recording stopped after failed rotation")
			}
		}
	}
}

func (s *Session) start() error {
	if s.state == Recording {
		s.log.WithField("segment_id", s.current.seg.ID.String()).Info("Restarting recording")
		s.stop(false)
	}
	return s.open()
}

func (s *Session) open() error {
	format := s.cfg.Format
	path, err := s.store.Allocate(s.cfg.Prefix, format.Encoding.Extension())
	if err != nil {
		s.log.WithError(err).Error("Failed to allocate segment path")
		return err
	}
	seg, err := segment.New(path, format, time.Now())
	if err != nil {
		return fmt.Errorf("creating segment: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"segment_id": seg.ID.String(),
		"path":       seg.Path,
	})
	rec, err := s.device.Open(seg.RawPath(), capture.Options{Format: format, Gate: s.cfg.Gate})
	if err != nil {
		if errors.Is(err, capture.ErrDeviceUnavailable) || errors.Is(err, capture.ErrDeviceBusy) {
			log = log.WithField("error_kind", "device_unavailable")
		}
		log.WithError(err).Error("Failed to start recording")
		return err
	}

	s.current = &recording{seg: seg, rec: rec}
	s.state = Recording
	s.level.Start()
	s.rotation.Start()
	s.publishState()

	log.Info("Recording started")
	return nil
}

func (s *Session) stop(submit bool) {
	if s.state != Recording {
		s.log.Warn("Stop called while not recording")
		return
	}
	seg := s.detach()
	s.handOff(seg, submit)
}

// rotate stops the current segment, starts the next one and only then
// finalizes the previous segment, so the device is reopened promptly
func (s *Session) rotate() error {
	if s.state != Recording {
		return ErrIdle
	}
	seg := s.detach()
	err := s.open()
	s.handOff(seg, true)
	return err
}

// detach stops the recorder and leaves the session Idle
func (s *Session) detach() segment.Segment {
	s.level.Stop()
	s.rotation.Stop()

	cur := s.current
	s.current = nil
	s.state = Idle
	s.publishState()

	stats, err := cur.rec.Stop()
	seg := cur.seg
	seg.FinalizedAt = time.Now()
	seg.Frames = stats.Frames
	seg.VoicedFrames = stats.VoicedFrames
	if err != nil {
		s.log.WithError(err).WithField("segment_id", seg.ID.String()).Warn("Recorder did not stop cleanly")
	}

	s.log.WithFields(logrus.Fields{
		"segment_id": seg.ID.String(),
		"duration":   seg.Duration(),
	}).Info("Recording stopped")
	return seg
}

func (s *Session) handOff(seg segment.Segment, submit bool) {
	s.metrics.AddSegment(seg.Duration())
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		seg = s.encode(seg)
		if !submit {
			return
		}
		if s.cfg.SkipSilent && s.cfg.Gate != nil && seg.VoicedFrames == 0 {
			s.uploader.Skip(seg)
			return
		}
		s.uploader.Submit(seg)
	}()
}

// encode transcodes the captured WAV into the configured container.
// On failure the WAV itself is used.
func (s *Session) encode(seg segment.Segment) segment.Segment {
	if seg.Format.Encoding == segment.EncodingPCM {
		return seg
	}
	raw := seg.RawPath()

	ctx, cancel := context.WithTimeout(context.Background(), transcodeTimeout)
	defer cancel()
	if err := s.transcoder.Transcode(ctx, raw, seg.Path, seg.Format); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"segment_id": seg.ID.String(),
			"error_kind": "encoding_failure",
		}).Error("Failed to transcode segment, keeping WAV")
		seg.Path = raw
		seg.Format.Encoding = segment.EncodingPCM
		return seg
	}

	if err := os.Remove(raw); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).WithField("path", raw).Warn("Failed to remove raw capture")
	}
	return seg
}

func (s *Session) emitLevel() {
	if s.current == nil {
		return
	}
	s.hub.Publish(events.LevelChanged(s.current.rec.AveragePower(), time.Now()))
}

func (s *Session) publishState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = s.state
	if s.current != nil {
		s.snapSeg = s.current.seg
	} else {
		s.snapSeg = segment.Segment{}
	}
}
