// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind names a capture surface's parent record type.
type EntityKind string

const (
	EntityFieldReport EntityKind = "field_report"
	EntityDailyLog    EntityKind = "daily_log"
	EntityIncident    EntityKind = "incident"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityFieldReport, EntityDailyLog, EntityIncident:
		return true
	}
	return false
}

// GeoTag is an optional coordinate pair resolved once per capture session.
// OK is false when the position could not be acquired (denied, no capability,
// or timed out); an unavailable tag is a recognized degraded state, not an
// error.
type GeoTag struct {
	Latitude  float64
	Longitude float64
	OK        bool
}

// Attachment is the persisted unit. Latitude/Longitude/TakenAt/UploadedBy are
// immutable once set; only Caption may change after creation.
type Attachment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ParentID   string    `db:"parent_id" json:"parent_id"`
	ImageRef   string    `db:"image_ref" json:"image_ref"`
	Caption    string    `db:"caption" json:"caption"`
	Latitude   *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64  `db:"longitude" json:"longitude,omitempty"`
	TakenAt    time.Time `db:"taken_at" json:"taken_at"`
	UploadedBy string    `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StagedCapture is a client-side capture awaiting its parent record. It is
// never persisted as such; flushing turns it into an Attachment. PreviewRef
// points at the in-memory bytes for display and must be revoked whenever the
// capture leaves the staging buffer.
type StagedCapture struct {
	ImageBytes []byte
	PreviewRef uuid.UUID
	Caption    string
	Geo        GeoTag
	CapturedAt time.Time
	Actor      string
}
