// Package capture drives a single evidence photo from device acquisition
// through live preview to a watermarked still. A session exclusively owns the
// camera stream it acquires and releases it on every exit path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/geotag"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/watermark"
)

// GeoStatus is the session-visible position state during live preview.
type GeoStatus string

const (
	GeoPending     GeoStatus = "pending"
	GeoResolved    GeoStatus = "ok"
	GeoUnavailable GeoStatus = "unavailable"
)

// Result is the composited still handed over on accept.
type Result struct {
	Image      []byte
	Geo        models.GeoTag
	CapturedAt time.Time
}

type SessionConfig struct {
	Camera Camera
	Picker FilePicker
	Tagger *geotag.Tagger
	// Clock defaults to time.Now; tests substitute it.
	Clock func() time.Time
}

type Session struct {
	camera Camera
	picker FilePicker
	tagger *geotag.Tagger
	clock  func() time.Time

	mu       sync.Mutex
	state    State
	stream   Stream
	fallback bool

	geoCh   chan models.GeoTag
	geo     models.GeoTag
	geoDone bool

	composed   []byte
	geoShot    models.GeoTag
	capturedAt time.Time
}

func NewSession(cfg SessionConfig) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		camera: cfg.Camera,
		picker: cfg.Picker,
		tagger: cfg.Tagger,
		clock:  clock,
		state:  StateIdle,
		geoCh:  make(chan models.GeoTag, 1),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fallback reports whether the session runs on the file-picker path instead
// of a live stream.
func (s *Session) Fallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Start moves Idle -> AcquiringDevice -> Live. Geolocation acquisition runs
// concurrently with device acquisition and never blocks it; its outcome is
// observable via GeoStatus. When no camera exists the session selects the
// file-picker fallback once, here, and every later state treats the two
// origins identically.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(StateIdle, StateAcquiring); err != nil {
		return err
	}

	// One position request per session, never retried mid-session.
	go func() {
		s.geoCh <- s.tagger.Acquire(ctx)
	}()

	return s.acquireLocked(ctx)
}

func (s *Session) acquireLocked(ctx context.Context) error {
	if s.fallback {
		// Retake on a fallback session: nothing to re-acquire.
		return s.transition(StateAcquiring, StateLive)
	}
	if s.camera == nil {
		return s.enterFallbackLocked()
	}

	stream, err := s.camera.Acquire(ctx)
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return s.enterFallbackLocked()
	case errors.Is(err, ErrPermissionDenied):
		_ = s.transition(StateAcquiring, StateError)
		return ErrPermissionDenied
	case err != nil:
		_ = s.transition(StateAcquiring, StateError)
		return fmt.Errorf("capture.Start: %w", err)
	}

	s.stream = stream
	return s.transition(StateAcquiring, StateLive)
}

func (s *Session) enterFallbackLocked() error {
	if s.picker == nil {
		_ = s.transition(StateAcquiring, StateError)
		return ErrDeviceUnavailable
	}
	s.fallback = true
	return s.transition(StateAcquiring, StateLive)
}

func (s *Session) pollGeoLocked() {
	if s.geoDone {
		return
	}
	select {
	case tag := <-s.geoCh:
		s.geo = tag
		s.geoDone = true
	default:
	}
}

// GeoStatus is shown in the live preview so a missing fix is visible before
// the shutter is ever pressed.
func (s *Session) GeoStatus() GeoStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollGeoLocked()
	switch {
	case !s.geoDone:
		return GeoPending
	case s.geo.OK:
		return GeoResolved
	default:
		return GeoUnavailable
	}
}

// Shutter grabs the current frame, releases the stream, and composes the
// watermarked still with the geo state valid at this instant: a still-pending
// fix resolves to unavailable rather than waiting. The capture timestamp is
// taken here, not at upload.
func (s *Session) Shutter(ctx context.Context) error {
	const op = "capture.Shutter"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(StateLive, StateComposing); err != nil {
		return err
	}

	var frame image.Image
	var err error
	if s.fallback {
		frame, err = s.picker.Pick(ctx)
	} else {
		frame, err = s.stream.Frame()
		// The stream is not needed during composition.
		s.releaseStreamLocked()
	}
	capturedAt := s.clock()
	if err != nil {
		_ = s.transition(StateComposing, StateError)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.pollGeoLocked()
	tag := s.geo
	if !s.geoDone {
		tag = models.GeoTag{}
	}

	img, err := watermark.Compose(frame, tag, capturedAt)
	if err != nil {
		_ = s.transition(StateComposing, StateError)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.composed = img
	s.geoShot = tag
	s.capturedAt = capturedAt
	return s.transition(StateComposing, StatePreview)
}

// Result returns the composited still while the session sits in Preview.
func (s *Session) Result() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePreview {
		return Result{}, fmt.Errorf("no composited image: session is %s", s.state)
	}
	return Result{Image: s.composed, Geo: s.geoShot, CapturedAt: s.capturedAt}, nil
}

// Retake discards the composited still and re-enters device acquisition. The
// geo tag resolved for this session is kept; it is never re-requested.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(StatePreview, StateAcquiring); err != nil {
		return err
	}
	s.composed = nil
	s.geoShot = models.GeoTag{}
	s.capturedAt = time.Time{}
	return s.acquireLocked(ctx)
}

// Accept closes the session and hands the final still to the caller.
func (s *Session) Accept() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(StatePreview, StateClosed); err != nil {
		return Result{}, fmt.Errorf("cannot accept: %w", err)
	}
	s.releaseStreamLocked()
	return Result{Image: s.composed, Geo: s.geoShot, CapturedAt: s.capturedAt}, nil
}

// Close cancels the session from any state. The device stream, if held, is
// released unconditionally; closing a finished session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !IsTerminal(s.state) {
		s.state = StateClosed
	}
	s.releaseStreamLocked()
	s.composed = nil
}

// releaseStreamLocked tears the stream down exactly once; every terminal
// transition funnels through it.
func (s *Session) releaseStreamLocked() {
	if s.stream == nil {
		return
	}
	_ = s.stream.Close()
	s.stream = nil
}
