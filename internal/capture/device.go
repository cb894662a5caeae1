package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// Stream is an exclusively owned live frame source. It belongs to exactly one
// session, which must close it on every exit path.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// Camera grants exclusive access to a device stream. Acquire fails with
// ErrDeviceUnavailable when no device exists and ErrPermissionDenied when the
// user refused access.
type Camera interface {
	Acquire(ctx context.Context) (Stream, error)
}

// FilePicker yields a pre-existing still image when no live camera capability
// exists.
type FilePicker interface {
	Pick(ctx context.Context) (image.Image, error)
}

// PickerFunc adapts a function to FilePicker.
type PickerFunc func(ctx context.Context) (image.Image, error)

func (f PickerFunc) Pick(ctx context.Context) (image.Image, error) { return f(ctx) }

// DirectoryCamera exposes a frame-grabber drop directory as a camera: the
// site unit writes JPEG frames into Dir and Frame returns the newest one.
// Preferring the rear sensor is the grabber's concern; this end sees frames.
type DirectoryCamera struct {
	Dir string
}

func (c *DirectoryCamera) Acquire(ctx context.Context) (Stream, error) {
	const op = "capture.DirectoryCamera.Acquire"

	if c == nil || c.Dir == "" {
		return nil, ErrDeviceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info, err := os.Stat(c.Dir)
	switch {
	case os.IsNotExist(err):
		return nil, ErrDeviceUnavailable
	case os.IsPermission(err):
		return nil, ErrPermissionDenied
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case !info.IsDir():
		return nil, ErrDeviceUnavailable
	}
	return &dirStream{dir: c.Dir}, nil
}

type dirStream struct {
	dir string

	mu     sync.Mutex
	closed bool
}

func (s *dirStream) Frame() (image.Image, error) {
	const op = "capture.dirStream.Frame"

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrDeviceUnavailable)
	}

	// Grabber names frames monotonically; the lexicographic max is newest.
	sort.Strings(names)
	img, err := imaging.Open(filepath.Join(s.dir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// PathPicker picks a fixed local file, decoding it with the same pipeline
// live frames go through.
type PathPicker struct {
	Path string
}

func (p *PathPicker) Pick(ctx context.Context) (image.Image, error) {
	const op = "capture.PathPicker.Pick"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	img, err := imaging.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}
