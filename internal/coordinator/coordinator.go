// Package coordinator is the façade capture surfaces call: it starts and
// cancels capture sessions, uploads accepted captures when the parent record
// is known, stages them when it is not, and flushes the staged set once the
// parent id becomes available.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/attachments"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/capture"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/staging"
)

// Pending marks a coordinator whose parent record does not exist yet;
// accepted captures are staged instead of uploaded.
const Pending = "pending"

// UploadError wraps a failed attachment create. The capture it carries is
// retained client-side so the user can retry without recapturing.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Coordinator serves exactly one capture surface. It is agnostic to which
// entity kind it attaches to; the surface supplies the parent id (or
// Pending) at construction.
type Coordinator struct {
	service  attachments.Service
	previews *staging.PreviewStore
	buffer   *staging.Buffer
	session  capture.SessionConfig

	mu       sync.Mutex
	parentID string
	pending  bool
	live     *capture.Session
	list     []models.Attachment
	retained *models.StagedCapture
}

func New(service attachments.Service, session capture.SessionConfig, parentID string) *Coordinator {
	previews := staging.NewPreviewStore()
	return &Coordinator{
		service:  service,
		previews: previews,
		buffer:   staging.NewBuffer(previews),
		session:  session,
		parentID: parentID,
		pending:  parentID == Pending || parentID == "",
	}
}

// StartCapture opens a new session. A second start while one is live is
// rejected with capture.ErrSessionActive; the first session is never
// implicitly cancelled.
func (c *Coordinator) StartCapture(ctx context.Context) (*capture.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil && !capture.IsTerminal(c.live.State()) {
		return nil, capture.ErrSessionActive
	}

	s := capture.NewSession(c.session)
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	c.live = s
	return s, nil
}

// Session returns the live session, if any.
func (c *Coordinator) Session() (*capture.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil || capture.IsTerminal(c.live.State()) {
		return nil, false
	}
	return c.live, true
}

// CancelCapture tears the live session down; the device stream is released
// regardless of which state the session was in.
func (c *Coordinator) CancelCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil {
		c.live.Close()
		c.live = nil
	}
}

// OnCaptureAccepted routes an accepted capture: immediate upload when the
// parent id is known, staging when it is pending. In direct mode the created
// attachment is returned; in pending mode the return is nil and the capture
// waits in the staging buffer.
func (c *Coordinator) OnCaptureAccepted(ctx context.Context, res capture.Result, caption, actor string) (*models.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = nil

	staged := models.StagedCapture{
		ImageBytes: res.Image,
		Caption:    caption,
		Geo:        res.Geo,
		CapturedAt: res.CapturedAt,
		Actor:      actor,
	}

	if c.pending {
		staged.PreviewRef = c.previews.Allocate(staged.ImageBytes)
		c.buffer.Add(staged)
		return nil, nil
	}

	att, err := c.service.Create(ctx, c.parentID, staged.ImageBytes, staged.Caption, staged.Geo, staged.CapturedAt, staged.Actor)
	if err != nil {
		// Keep the capture so a retry does not need the camera again. A
		// newer failed capture supersedes the retained one; the superseded
		// preview must not outlive it.
		if c.retained != nil {
			c.previews.Revoke(c.retained.PreviewRef)
		}
		staged.PreviewRef = c.previews.Allocate(staged.ImageBytes)
		c.retained = &staged
		return nil, &UploadError{Err: err}
	}

	c.list = append([]models.Attachment{att}, c.list...)
	return &att, nil
}

// RetryUpload re-attempts the upload retained by a failed direct create.
func (c *Coordinator) RetryUpload(ctx context.Context) (*models.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retained == nil {
		return nil, fmt.Errorf("no failed upload to retry")
	}
	r := *c.retained
	att, err := c.service.Create(ctx, c.parentID, r.ImageBytes, r.Caption, r.Geo, r.CapturedAt, r.Actor)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	c.previews.Revoke(r.PreviewRef)
	c.retained = nil
	c.list = append([]models.Attachment{att}, c.list...)
	return &att, nil
}

// Flush uploads every staged capture against the now-existing parent,
// strictly sequentially and in insertion order: the next create is not
// issued until the previous one resolved. Each flushed capture leaves the
// buffer and has its preview revoked as it succeeds. The first failure
// aborts the rest; already-flushed items stay persisted, the failed item and
// everything after it stay staged in order, so Flush can simply be retried.
// After a complete flush the coordinator switches to direct mode.
func (c *Coordinator) Flush(ctx context.Context, parentID string) ([]models.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending {
		return nil, fmt.Errorf("flush: coordinator was not started in pending mode")
	}
	if parentID == "" || parentID == Pending {
		return nil, fmt.Errorf("flush: parent id required")
	}

	var created []models.Attachment
	for c.buffer.Len() > 0 {
		item := c.buffer.List()[0]
		att, err := c.service.Create(ctx, parentID, item.ImageBytes, item.Caption, item.Geo, item.CapturedAt, item.Actor)
		if err != nil {
			return created, &UploadError{Err: err}
		}
		if err := c.buffer.RemoveAt(0); err != nil {
			return created, err
		}
		created = append(created, att)
		c.list = append([]models.Attachment{att}, c.list...)
	}

	c.parentID = parentID
	c.pending = false
	return created, nil
}

// Staged returns the captures awaiting their parent, in flush order.
func (c *Coordinator) Staged() []models.StagedCapture {
	return c.buffer.List()
}

// DiscardStaged drops one staged capture and revokes its preview.
func (c *Coordinator) DiscardStaged(i int) error {
	return c.buffer.RemoveAt(i)
}

// Preview resolves a live preview reference to its bytes.
func (c *Coordinator) Preview(ref uuid.UUID) ([]byte, bool) {
	return c.previews.Resolve(ref)
}

// Attachments is the surface-visible list, most recent first.
func (c *Coordinator) Attachments() []models.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Attachment, len(c.list))
	copy(out, c.list)
	return out
}

// Refresh reloads the visible list from the store.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return nil
	}
	list, err := c.service.List(ctx, c.parentID)
	if err != nil {
		return err
	}
	c.list = list
	return nil
}

// Delete passes through to the store; the visible list is updated only after
// the round trip succeeds.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.service.Delete(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, att := range c.list {
		if att.ID == id {
			c.list = append(c.list[:i], c.list[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateCaption passes through to the store; the visible list is updated
// only after the round trip succeeds.
func (c *Coordinator) UpdateCaption(ctx context.Context, id uuid.UUID, caption string) (models.Attachment, error) {
	att, err := c.service.UpdateCaption(ctx, id, caption)
	if err != nil {
		return models.Attachment{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.list {
		if c.list[i].ID == id {
			c.list[i] = att
			break
		}
	}
	return att, nil
}

// Abandon releases everything the flow owns: the live session, all staged
// captures and their previews. Called when the parent-creation form is
// navigated away from, successful or not.
func (c *Coordinator) Abandon() {
	c.CancelCapture()
	c.buffer.Clear()
	c.mu.Lock()
	if c.retained != nil {
		c.previews.Revoke(c.retained.PreviewRef)
		c.retained = nil
	}
	c.mu.Unlock()
}
