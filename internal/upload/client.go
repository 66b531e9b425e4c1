package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/events"
	"github.com/amanullahtanweer/speaker-recognizer/internal/history"
	"github.com/amanullahtanweer/speaker-recognizer/internal/metrics"
	"github.com/amanullahtanweer/speaker-recognizer/internal/ratio"
	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/sirupsen/logrus"
)

var (
	ErrEncoding  = errors.New("encoding failure")
	ErrTransport = errors.New("transport failure")
	ErrParse     = errors.New("parse failure")
)

const maxResponseSize = 1 << 20

type Config struct {
	Endpoint       string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	RetainSegments bool
}

type (
	Publisher interface {
		Publish(events.Event)
	}

	// Mirror receives every applied delta, e.g. ratio.RedisMirror
	Mirror interface {
		Add(ctx context.Context, delta ratio.Totals) error
	}

	History interface {
		Insert(ctx context.Context, rec history.Record) (history.Record, error)
	}

	Remover interface {
		Remove(seg segment.Segment) error
	}
)

// Result describes one completed upload
type Result struct {
	Hash     string
	Bytes    int64
	Attempts int
	Applied  ratio.Totals
	Invalid  int
	Ratio    ratio.Ratio
	RatioOK  bool
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("analysis service returned %s: %s", e.status, e.body)
}

// Client sends finalized segments to the analysis service and folds the
// results into the accumulator
type Client struct {
	cfg     Config
	http    *http.Client
	acc     *ratio.Accumulator
	hub     Publisher
	log     logrus.FieldLogger
	mirror  Mirror
	history History
	metrics *metrics.SessionMetrics
	store   Remover

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithMirror(m Mirror) Option {
	return func(c *Client) { c.mirror = m }
}

func WithHistory(h History) Option {
	return func(c *Client) { c.history = h }
}

func WithMetrics(m *metrics.SessionMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithStore enables retention: uploaded segments are removed unless
// RetainSegments is set
func WithStore(s Remover) Option {
	return func(c *Client) { c.store = s }
}

func New(cfg Config, acc *ratio.Accumulator, hub Publisher, log logrus.FieldLogger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		acc:    acc,
		hub:    hub,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit uploads seg in the background. It never blocks the caller.
func (c *Client) Submit(seg segment.Segment) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.Upload(c.ctx, seg)
		c.finish(seg, res, err)
	}()
}

// Skip records a segment that will not be uploaded
func (c *Client) Skip(seg segment.Segment) {
	c.log.WithFields(logrus.Fields{
		"segment_id": seg.ID.String(),
		"path":       seg.Path,
	}).Info("Skipping silent segment")

	c.metrics.AddSkipped()
	c.record(seg, Result{}, history.StatusSkipped, nil)
	c.retain(seg)
}

// Wait blocks until in-flight uploads finish or ctx is done
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts in-flight uploads and waits for them
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Upload performs one segment upload synchronously. Failures are logged
// here and leave the accumulator untouched.
func (c *Client) Upload(ctx context.Context, seg segment.Segment) (Result, error) {
	log := c.log.WithFields(logrus.Fields{
		"segment_id": seg.ID.String(),
		"path":       seg.Path,
	})
	var res Result

	body, contentType, hash, err := encode(seg)
	if err != nil {
		log.WithError(err).WithField("error_kind", "encoding_failure").Error("Failed to encode segment")
		return res, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	res.Hash = hash
	res.Bytes = int64(len(body))

	respBody, attempts, err := c.send(ctx, seg, body, contentType, hash, log)
	res.Attempts = attempts
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"error_kind": "transport_failure",
			"attempt":    attempts,
		}).Error("Failed to upload segment")
		return res, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	entries, err := parseSelections(respBody)
	if err != nil {
		log.WithError(err).WithField("error_kind", "parse_failure").Error("Failed to parse analysis response")
		return res, fmt.Errorf("%w: %w", ErrParse, err)
	}

	batch := make([]ratio.Observation, 0, len(entries))
	for i, raw := range entries {
		obs, err := observation(raw)
		if err != nil {
			res.Invalid++
			log.WithError(err).WithFields(logrus.Fields{
				"error_kind": "invalid_data_point",
				"index":      i,
			}).Warn("Skipping selection")
			continue
		}
		batch = append(batch, obs)
	}

	// entries are finite here; only their sum can overflow the totals
	r, ok, err := c.acc.Apply(batch)
	if err != nil {
		log.WithError(err).WithField("error_kind", "parse_failure").Error("Failed to apply analysis response")
		return res, fmt.Errorf("%w: %w", ErrParse, err)
	}
	for _, o := range batch {
		if o.Gender == ratio.Male {
			res.Applied.Male += o.Seconds
		} else {
			res.Applied.Female += o.Seconds
		}
	}
	res.Ratio, res.RatioOK = r, ok

	if c.mirror != nil && res.Applied.Sum() > 0 {
		if err := c.mirror.Add(ctx, res.Applied); err != nil {
			log.WithError(err).Warn("Failed to mirror totals")
		}
	}

	log.WithFields(logrus.Fields{
		"male_seconds":   res.Applied.Male,
		"female_seconds": res.Applied.Female,
		"selections":     len(batch),
	}).Info("Segment analyzed")

	if ok {
		c.metrics.AddRatio()
		c.hub.Publish(events.RatioChanged(r, time.Now()))
	}
	return res, nil
}

func encode(seg segment.Segment) ([]byte, string, string, error) {
	f, err := os.Open(seg.Path)
	if err != nil {
		return nil, "", "", fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(seg.Path)))
	h.Set("Content-Type", seg.Format.Encoding.ContentType())
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", "", fmt.Errorf("creating multipart part: %w", err)
	}

	hash, err := segment.HashReader(io.TeeReader(f, fw))
	if err != nil {
		return nil, "", "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", "", fmt.Errorf("closing multipart body: %w", err)
	}
	return b.Bytes(), w.FormDataContentType(), hash, nil
}

// send posts body, retrying transport errors and 5xx responses with
// exponential backoff. It returns the response body and the number of
// attempts made.
func (c *Client) send(ctx context.Context, seg segment.Segment, body []byte, contentType, hash string, log logrus.FieldLogger) ([]byte, int, error) {
	backoff := c.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		data, err := c.post(ctx, seg, body, contentType, hash)
		if err == nil {
			return data, attempt, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return nil, attempt, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("Upload attempt failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, c.cfg.MaxAttempts, lastErr
}

func (c *Client) post(ctx context.Context, seg segment.Segment, body []byte, contentType, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Segment-ID", seg.ID.String())
	req.Header.Set("X-Content-Blake3", hash)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &statusError{code: resp.StatusCode, status: resp.Status, body: snippet}
	}
	return data, nil
}

func (c *Client) finish(seg segment.Segment, res Result, err error) {
	c.metrics.AddUpload(err == nil, res.Attempts, res.Bytes, res.Invalid)

	status := history.StatusOK
	switch {
	case errors.Is(err, ErrEncoding):
		status = history.StatusEncodingFailure
	case errors.Is(err, ErrTransport):
		status = history.StatusTransportFailure
	case errors.Is(err, ErrParse):
		status = history.StatusParseFailure
	}
	c.record(seg, res, status, err)

	if err == nil {
		c.retain(seg)
	}
}

func (c *Client) record(seg segment.Segment, res Result, status history.Status, err error) {
	if c.history == nil {
		return
	}
	rec := history.Record{
		SegmentID:     seg.ID.String(),
		Path:          seg.Path,
		Blake3Hash:    res.Hash,
		StartedAt:     seg.StartedAt,
		FinalizedAt:   seg.FinalizedAt,
		Status:        status,
		Attempts:      res.Attempts,
		MaleSeconds:   res.Applied.Male,
		FemaleSeconds: res.Applied.Female,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// the upload context may already be cancelled on shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.history.Insert(ctx, rec); err != nil {
		c.log.WithError(err).WithField("segment_id", rec.SegmentID).Warn("Failed to record upload history")
	}
}

func (c *Client) retain(seg segment.Segment) {
	if c.store == nil || c.cfg.RetainSegments {
		return
	}
	if err := c.store.Remove(seg); err != nil {
		c.log.WithError(err).WithField("path", seg.Path).Warn("Failed to remove uploaded segment")
	}
}
