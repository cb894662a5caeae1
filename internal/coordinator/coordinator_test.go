package coordinator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/capture"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/geotag"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

var shutterTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeService records create calls and can be told to fail specific ones.
type fakeService struct {
	mu          sync.Mutex
	calls       []createCall
	failOn      map[int]error
	deleteErr   error
	updateErr   error
	deleted     []uuid.UUID
	inFlight    int
	maxInFlight int
}

type createCall struct {
	parentID string
	caption  string
	geo      models.GeoTag
	takenAt  time.Time
	calledAt time.Time
}

func (f *fakeService) Create(ctx context.Context, parentID string, img []byte, caption string, geo models.GeoTag, takenAt time.Time, uploadedBy string) (models.Attachment, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	idx := len(f.calls)
	f.calls = append(f.calls, createCall{parentID: parentID, caption: caption, geo: geo, takenAt: takenAt, calledAt: time.Now()})
	err := f.failOn[idx]
	f.mu.Unlock()

	// Window in which an overlapping call would be observable.
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return models.Attachment{}, err
	}
	att := models.Attachment{
		ID:         uuid.New(),
		ParentID:   parentID,
		ImageRef:   fmt.Sprintf("minio://test/%s/%d.jpg", parentID, idx),
		Caption:    caption,
		TakenAt:    takenAt,
		UploadedBy: uploadedBy,
		CreatedAt:  time.Now(),
	}
	if geo.OK {
		lat, lng := geo.Latitude, geo.Longitude
		att.Latitude, att.Longitude = &lat, &lng
	}
	return att, nil
}

func (f *fakeService) List(ctx context.Context, parentID string) ([]models.Attachment, error) {
	return nil, nil
}

func (f *fakeService) UpdateCaption(ctx context.Context, id uuid.UUID, caption string) (models.Attachment, error) {
	if f.updateErr != nil {
		return models.Attachment{}, f.updateErr
	}
	return models.Attachment{ID: id, Caption: caption}, nil
}

func (f *fakeService) Delete(ctx context.Context, id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) createCalls() []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]createCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeStream struct{}

func (fakeStream) Frame() (image.Image, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 0x77
	}
	return img, nil
}

func (fakeStream) Close() error { return nil }

type fakeCamera struct{}

func (fakeCamera) Acquire(ctx context.Context) (capture.Stream, error) { return fakeStream{}, nil }

// switchPositioner can be flipped between a fix and no fix between captures.
type switchPositioner struct {
	mu  sync.Mutex
	ok  bool
	lat float64
	lng float64
}

func (p *switchPositioner) set(ok bool, lat, lng float64) {
	p.mu.Lock()
	p.ok, p.lat, p.lng = ok, lat, lng
	p.mu.Unlock()
}

func (p *switchPositioner) Position(ctx context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ok {
		return 0, 0, errors.New("no fix")
	}
	return p.lat, p.lng, nil
}

func newTestCoordinator(svc *fakeService, pos *switchPositioner, parentID string) *Coordinator {
	return New(svc, capture.SessionConfig{
		Camera: fakeCamera{},
		Tagger: geotag.New(pos, time.Second),
		Clock:  func() time.Time { return shutterTime },
	}, parentID)
}

func waitGeoSettled(t *testing.T, sess *capture.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.GeoStatus() != capture.GeoPending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("geo never settled")
}

// runCapture drives one full session and hands the accepted capture to the
// coordinator.
func runCapture(t *testing.T, co *Coordinator, caption, actor string) (*models.Attachment, error) {
	t.Helper()
	ctx := context.Background()

	sess, err := co.StartCapture(ctx)
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitGeoSettled(t, sess)
	if err := sess.Shutter(ctx); err != nil {
		t.Fatalf("Shutter: %v", err)
	}
	res, err := sess.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return co.OnCaptureAccepted(ctx, res, caption, actor)
}

func TestDirectCreateWithKnownParent(t *testing.T) {
	svc := &fakeService{}
	pos := &switchPositioner{ok: true, lat: 48.8566, lng: 2.3522}
	co := newTestCoordinator(svc, pos, "proj-1")

	att, err := runCapture(t, co, "Cracked beam", "inspector-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att == nil {
		t.Fatalf("direct mode returned no attachment")
	}
	if !att.TakenAt.Equal(shutterTime) {
		t.Fatalf("takenAt = %v, want shutter instant %v", att.TakenAt, shutterTime)
	}
	if att.Latitude == nil || *att.Latitude != 48.8566 {
		t.Fatalf("latitude = %v, want 48.8566", att.Latitude)
	}
	if att.Caption != "Cracked beam" {
		t.Fatalf("caption = %q", att.Caption)
	}

	calls := svc.createCalls()
	if len(calls) != 1 || calls[0].parentID != "proj-1" {
		t.Fatalf("calls = %+v", calls)
	}

	list := co.Attachments()
	if len(list) != 1 || list[0].ID != att.ID {
		t.Fatalf("attachment not prepended to visible list")
	}
}

func TestPendingModeStagesWithoutNetwork(t *testing.T) {
	svc := &fakeService{}
	pos := &switchPositioner{ok: true, lat: 1, lng: 2}
	co := newTestCoordinator(svc, pos, Pending)

	att, err := runCapture(t, co, "before parent exists", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att != nil {
		t.Fatalf("pending mode must not upload")
	}
	if len(svc.createCalls()) != 0 {
		t.Fatalf("pending mode issued a network call")
	}

	staged := co.Staged()
	if len(staged) != 1 {
		t.Fatalf("staged = %d, want 1", len(staged))
	}
	if _, ok := co.Preview(staged[0].PreviewRef); !ok {
		t.Fatalf("staged capture has no resolvable preview")
	}
}

func TestFlushUploadsSequentiallyInCaptureOrder(t *testing.T) {
	svc := &fakeService{}
	pos := &switchPositioner{ok: true, lat: 48.8566, lng: 2.3522}
	co := newTestCoordinator(svc, pos, Pending)

	if _, err := runCapture(t, co, "one", ""); err != nil {
		t.Fatalf("capture one: %v", err)
	}
	// No geolocation for the second capture.
	pos.set(false, 0, 0)
	if _, err := runCapture(t, co, "two", ""); err != nil {
		t.Fatalf("capture two: %v", err)
	}

	refs := make([]uuid.UUID, 0, 2)
	for _, s := range co.Staged() {
		refs = append(refs, s.PreviewRef)
	}

	beforeFlush := time.Now()
	created, err := co.Flush(context.Background(), "proj-2")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}

	calls := svc.createCalls()
	if len(calls) != 2 {
		t.Fatalf("create calls = %d, want 2", len(calls))
	}
	if calls[0].caption != "one" || calls[1].caption != "two" {
		t.Fatalf("flush order wrong: %q, %q", calls[0].caption, calls[1].caption)
	}
	if svc.maxInFlight != 1 {
		t.Fatalf("creates overlapped: max in flight %d", svc.maxInFlight)
	}
	if calls[1].geo.OK {
		t.Fatalf("second capture gained a geo tag it never had")
	}
	if created[1].Latitude != nil {
		t.Fatalf("second attachment latitude = %v, want nil", created[1].Latitude)
	}

	// takenAt is the shutter instant, carried through staging untouched.
	for i, call := range calls {
		if !call.takenAt.Equal(shutterTime) {
			t.Fatalf("call %d takenAt = %v, want %v", i, call.takenAt, shutterTime)
		}
		if !call.takenAt.Before(beforeFlush) {
			t.Fatalf("call %d takenAt does not predate the flush", i)
		}
	}

	if len(co.Staged()) != 0 {
		t.Fatalf("buffer not drained after flush")
	}
	for _, ref := range refs {
		if _, ok := co.Preview(ref); ok {
			t.Fatalf("preview %s not revoked by flush", ref)
		}
	}

	// The coordinator now serves the created parent directly.
	if att, err := runCapture(t, co, "after flush", ""); err != nil || att == nil {
		t.Fatalf("post-flush capture not uploaded directly: att=%v err=%v", att, err)
	}
	calls = svc.createCalls()
	if calls[len(calls)-1].parentID != "proj-2" {
		t.Fatalf("post-flush create went to %q", calls[len(calls)-1].parentID)
	}
}

func TestFlushAbortsOnFirstFailureAndIsRetryable(t *testing.T) {
	svc := &fakeService{failOn: map[int]error{1: errors.New("store down")}}
	pos := &switchPositioner{ok: true, lat: 1, lng: 1}
	co := newTestCoordinator(svc, pos, Pending)

	for _, caption := range []string{"one", "two", "three"} {
		if _, err := runCapture(t, co, caption, ""); err != nil {
			t.Fatalf("capture %s: %v", caption, err)
		}
	}

	created, err := co.Flush(context.Background(), "proj-3")
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected *UploadError, got %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created before failure = %d, want 1", len(created))
	}

	// Failed item and everything after it stay staged, in order.
	staged := co.Staged()
	if len(staged) != 2 || staged[0].Caption != "two" || staged[1].Caption != "three" {
		t.Fatalf("staged after abort = %+v", staged)
	}

	// A retry picks up exactly where the failure happened.
	svc.mu.Lock()
	svc.failOn = nil
	svc.mu.Unlock()
	created, err = co.Flush(context.Background(), "proj-3")
	if err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("retry created = %d, want 2", len(created))
	}
	calls := svc.createCalls()
	wantCaptions := []string{"one", "two", "two", "three"}
	for i, want := range wantCaptions {
		if calls[i].caption != want {
			t.Fatalf("call %d caption = %q, want %q", i, calls[i].caption, want)
		}
	}
}

func TestFlushRequiresPendingMode(t *testing.T) {
	co := newTestCoordinator(&fakeService{}, &switchPositioner{ok: true}, "proj-1")
	if _, err := co.Flush(context.Background(), "proj-1"); err == nil {
		t.Fatalf("flush on a direct-mode coordinator must fail")
	}

	pending := newTestCoordinator(&fakeService{}, &switchPositioner{ok: true}, Pending)
	if _, err := pending.Flush(context.Background(), Pending); err == nil {
		t.Fatalf("flush without a real parent id must fail")
	}
}

func TestDirectUploadFailureRetainsImageForRetry(t *testing.T) {
	svc := &fakeService{failOn: map[int]error{0: errors.New("network down")}}
	pos := &switchPositioner{ok: true, lat: 1, lng: 1}
	co := newTestCoordinator(svc, pos, "proj-1")

	_, err := runCapture(t, co, "flaky", "worker-1")
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected *UploadError, got %v", err)
	}
	if len(co.Attachments()) != 0 {
		t.Fatalf("failed upload appeared in the visible list")
	}

	svc.mu.Lock()
	svc.failOn = nil
	svc.mu.Unlock()

	att, err := co.RetryUpload(context.Background())
	if err != nil {
		t.Fatalf("RetryUpload: %v", err)
	}
	if att.Caption != "flaky" {
		t.Fatalf("retried caption = %q", att.Caption)
	}
	calls := svc.createCalls()
	if len(calls) != 2 || !calls[1].takenAt.Equal(shutterTime) {
		t.Fatalf("retry did not reuse the original capture: %+v", calls)
	}
	if len(co.Attachments()) != 1 {
		t.Fatalf("retried upload missing from visible list")
	}

	if _, err := co.RetryUpload(context.Background()); err == nil {
		t.Fatalf("retry with nothing retained must fail")
	}
}

func TestSecondFailedUploadRevokesSupersededPreview(t *testing.T) {
	svc := &fakeService{failOn: map[int]error{0: errors.New("network down"), 1: errors.New("still down")}}
	pos := &switchPositioner{ok: true, lat: 1, lng: 1}
	co := newTestCoordinator(svc, pos, "proj-1")

	if _, err := runCapture(t, co, "first", ""); err == nil {
		t.Fatalf("first upload should have failed")
	}
	firstRef := co.retained.PreviewRef

	if _, err := runCapture(t, co, "second", ""); err == nil {
		t.Fatalf("second upload should have failed")
	}
	if co.retained.Caption != "second" {
		t.Fatalf("retained caption = %q, want the newest capture", co.retained.Caption)
	}
	if _, ok := co.Preview(firstRef); ok {
		t.Fatalf("superseded capture's preview reference still resolvable")
	}
	if live := co.previews.Live(); live != 1 {
		t.Fatalf("live previews = %d, want 1", live)
	}

	co.Abandon()
	if live := co.previews.Live(); live != 0 {
		t.Fatalf("previews leaked after abandon: %d live", live)
	}
}

func TestSecondStartCaptureRejected(t *testing.T) {
	co := newTestCoordinator(&fakeService{}, &switchPositioner{ok: true}, "proj-1")

	if _, err := co.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if _, err := co.StartCapture(context.Background()); !errors.Is(err, capture.ErrSessionActive) {
		t.Fatalf("second start = %v, want %v", err, capture.ErrSessionActive)
	}

	// After cancelling, a new session may start.
	co.CancelCapture()
	if _, err := co.StartCapture(context.Background()); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
}

func TestDeleteAndCaptionPassThrough(t *testing.T) {
	svc := &fakeService{}
	pos := &switchPositioner{ok: true, lat: 1, lng: 1}
	co := newTestCoordinator(svc, pos, "proj-1")

	att, err := runCapture(t, co, "to edit", "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	updated, err := co.UpdateCaption(context.Background(), att.ID, "edited")
	if err != nil {
		t.Fatalf("UpdateCaption: %v", err)
	}
	if updated.Caption != "edited" || co.Attachments()[0].Caption != "edited" {
		t.Fatalf("caption update not reflected locally")
	}

	// Failures must not touch the local list.
	svc.updateErr = errors.New("store down")
	if _, err := co.UpdateCaption(context.Background(), att.ID, "lost"); err == nil {
		t.Fatalf("expected update error")
	}
	if co.Attachments()[0].Caption != "edited" {
		t.Fatalf("local list optimistically updated before the round trip")
	}

	svc.deleteErr = errors.New("store down")
	if err := co.Delete(context.Background(), att.ID); err == nil {
		t.Fatalf("expected delete error")
	}
	if len(co.Attachments()) != 1 {
		t.Fatalf("local list optimistically updated on failed delete")
	}

	svc.deleteErr = nil
	if err := co.Delete(context.Background(), att.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(co.Attachments()) != 0 {
		t.Fatalf("deleted attachment still visible")
	}
}

func TestAbandonReleasesEverything(t *testing.T) {
	svc := &fakeService{}
	pos := &switchPositioner{ok: true, lat: 1, lng: 1}
	co := newTestCoordinator(svc, pos, Pending)

	if _, err := runCapture(t, co, "staged", ""); err != nil {
		t.Fatalf("capture: %v", err)
	}
	ref := co.Staged()[0].PreviewRef

	co.Abandon()
	if len(co.Staged()) != 0 {
		t.Fatalf("staged captures survived abandon")
	}
	if _, ok := co.Preview(ref); ok {
		t.Fatalf("preview reference survived abandon")
	}
}
