// Package geotag acquires a single best-effort device position per capture
// session. Location is an enrichment: every failure mode (denied, no
// capability, timeout) degrades to an unavailable tag instead of an error.
package geotag

import (
	"context"
	"log"
	"time"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

// Positioner is the platform location source. Position blocks until a fix is
// available or ctx is done. Implementations report permission and capability
// problems as errors; the tagger converts them all to unavailable.
type Positioner interface {
	Position(ctx context.Context) (lat, lng float64, err error)
}

type Tagger struct {
	src     Positioner
	timeout time.Duration
}

func New(src Positioner, timeout time.Duration) *Tagger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tagger{src: src, timeout: timeout}
}

// Acquire requests one position reading with a bounded wait. It never returns
// an error: any failure yields a tag with OK=false.
func (t *Tagger) Acquire(ctx context.Context) models.GeoTag {
	const op = "geotag.Acquire"

	if t == nil || t.src == nil {
		return models.GeoTag{}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	lat, lng, err := t.src.Position(ctx)
	if err != nil {
		log.Printf("%s: position unavailable: %v", op, err)
		return models.GeoTag{}
	}
	return models.GeoTag{Latitude: lat, Longitude: lng, OK: true}
}
