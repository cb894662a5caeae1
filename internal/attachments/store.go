package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

// Store implements Service on Postgres metadata plus a BlobStore for the
// bytes. events may be nil (tests, event-less deployments).
type Store struct {
	pool   *pgxpool.Pool
	db     *sql.DB // for migrations
	blobs  *BlobStore
	events *EventProducer
}

func NewStore(ctx context.Context, dsn string, blobs *BlobStore, events *EventProducer) (*Store, error) {
	const op = "attachments.NewStore"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{pool: pool, db: db, blobs: blobs, events: events}, nil
}

func (s *Store) Close() {
	s.db.Close()
	s.pool.Close()
}

// CreateParent registers a parent record so attachments can resolve it. The
// surrounding CRUD for reports, daily logs and incidents lives elsewhere;
// this is the existence anchor the pipeline needs.
func (s *Store) CreateParent(ctx context.Context, kind models.EntityKind, id string) error {
	const op = "attachments.Store.CreateParent"

	if !kind.Valid() {
		return fmt.Errorf("%s: unknown entity kind %q", op, kind)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO parents (id, kind) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, string(kind))
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) parentExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM parents WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Create(ctx context.Context, parentID string, image []byte, caption string, geo models.GeoTag, takenAt time.Time, uploadedBy string) (models.Attachment, error) {
	const op = "attachments.Store.Create"

	ok, err := s.parentExists(ctx, parentID)
	if err != nil {
		return models.Attachment{}, &StorageError{Op: op, Err: err}
	}
	if !ok {
		return models.Attachment{}, &ValidationError{ParentID: parentID}
	}

	id := uuid.New()
	ref, err := s.blobs.Put(ctx, parentID, id.String(), image)
	if err != nil {
		return models.Attachment{}, &StorageError{Op: op, Err: err}
	}

	att := models.Attachment{
		ID:         id,
		ParentID:   parentID,
		ImageRef:   ref,
		Caption:    caption,
		TakenAt:    takenAt,
		UploadedBy: uploadedBy,
	}
	if geo.OK {
		lat, lng := geo.Latitude, geo.Longitude
		att.Latitude, att.Longitude = &lat, &lng
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO attachments (id, parent_id, image_ref, caption, latitude, longitude, taken_at, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		att.ID, att.ParentID, att.ImageRef, att.Caption, att.Latitude, att.Longitude, att.TakenAt, att.UploadedBy,
	).Scan(&att.CreatedAt)
	if err != nil {
		// Orphaned blob cleanup; the metadata row is the source of truth.
		if rmErr := s.blobs.Remove(ctx, ref); rmErr != nil {
			log.Printf("%s: orphan blob %s: %v", op, ref, rmErr)
		}
		return models.Attachment{}, &StorageError{Op: op, Err: err}
	}

	s.events.publish(ctx, Event{Type: "attachment.created", AttachmentID: att.ID.String(), ParentID: parentID, At: att.CreatedAt})
	return att, nil
}

func (s *Store) List(ctx context.Context, parentID string) ([]models.Attachment, error) {
	const op = "attachments.Store.List"

	rows, err := s.pool.Query(ctx,
		`SELECT id, parent_id, image_ref, caption, latitude, longitude, taken_at, uploaded_by, created_at
		 FROM attachments WHERE parent_id = $1 ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.ID, &att.ParentID, &att.ImageRef, &att.Caption,
			&att.Latitude, &att.Longitude, &att.TakenAt, &att.UploadedBy, &att.CreatedAt); err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return out, nil
}

func (s *Store) UpdateCaption(ctx context.Context, id uuid.UUID, caption string) (models.Attachment, error) {
	const op = "attachments.Store.UpdateCaption"

	var att models.Attachment
	err := s.pool.QueryRow(ctx,
		`UPDATE attachments SET caption = $2 WHERE id = $1
		 RETURNING id, parent_id, image_ref, caption, latitude, longitude, taken_at, uploaded_by, created_at`,
		id, caption,
	).Scan(&att.ID, &att.ParentID, &att.ImageRef, &att.Caption,
		&att.Latitude, &att.Longitude, &att.TakenAt, &att.UploadedBy, &att.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Attachment{}, fmt.Errorf("%s: attachment %s not found", op, id)
	}
	if err != nil {
		return models.Attachment{}, &StorageError{Op: op, Err: err}
	}
	return att, nil
}

// Delete removes the attachment and its blob. Deleting an unknown id is not
// an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "attachments.Store.Delete"

	var ref, parentID string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM attachments WHERE id = $1 RETURNING image_ref, parent_id`, id,
	).Scan(&ref, &parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}

	if err := s.blobs.Remove(ctx, ref); err != nil {
		log.Printf("%s: blob %s: %v", op, ref, err)
	}
	s.events.publish(ctx, Event{Type: "attachment.deleted", AttachmentID: id.String(), ParentID: parentID, At: time.Now()})
	return nil
}

var _ Service = (*Store)(nil)
