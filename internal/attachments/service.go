// Package attachments is the persistence side of the evidence pipeline:
// image bytes in object storage, metadata in Postgres, lifecycle events on
// Kafka for external consumers.
package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

// Service is the contract the attachment coordinator consumes. Create fails
// with *ValidationError when parentID does not resolve to an existing record
// and *StorageError on persistence failure. Delete is idempotent.
type Service interface {
	Create(ctx context.Context, parentID string, image []byte, caption string, geo models.GeoTag, takenAt time.Time, uploadedBy string) (models.Attachment, error)
	List(ctx context.Context, parentID string) ([]models.Attachment, error)
	UpdateCaption(ctx context.Context, id uuid.UUID, caption string) (models.Attachment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ValidationError means the parent record the attachment points at does not
// exist.
type ValidationError struct {
	ParentID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parent record %q does not exist", e.ParentID)
}

// StorageError wraps blob or database persistence failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
