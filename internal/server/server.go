// Package server exposes the capture pipeline to the three authoring
// surfaces (field reports, daily site logs, incident tickets) over HTTP. The
// handlers are thin; all pipeline logic lives in the coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/attachments"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/capture"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/coordinator"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/geotag"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

// surface maps a URL base path to its entity kind.
var surfaces = map[string]models.EntityKind{
	"reports":   models.EntityFieldReport,
	"dailylogs": models.EntityDailyLog,
	"incidents": models.EntityIncident,
}

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	store  *attachments.Store
	tagger *geotag.Tagger

	mu     sync.Mutex
	coords map[string]*coordinator.Coordinator
	picked map[string]image.Image
}

func NewServer(cfg *models.Config, store *attachments.Store) *Server {
	r := gin.Default()

	s := &Server{
		cfg:    cfg,
		router: r,
		store:  store,
		tagger: geotag.New(geotag.NewHTTPProvider(cfg.GeoProviderURL), cfg.GeoTimeout()),
		coords: make(map[string]*coordinator.Coordinator),
		picked: make(map[string]image.Image),
	}

	for base, kind := range surfaces {
		g := r.Group("/" + base)
		g.POST("", s.handleCreateParent(kind))
		g.POST("/:parent/capture/start", s.handleStart(kind))
		g.GET("/:parent/capture", s.handleStatus(kind))
		g.POST("/:parent/capture/shutter", s.handleShutter(kind))
		g.POST("/:parent/capture/retake", s.handleRetake(kind))
		g.POST("/:parent/capture/accept", s.handleAccept(kind))
		g.POST("/:parent/capture/retry", s.handleRetry(kind))
		g.POST("/:parent/capture/cancel", s.handleCancel(kind))
		g.GET("/:parent/attachments", s.handleList(kind))
		g.PATCH("/:parent/attachments/:id/caption", s.handleCaption(kind))
		g.DELETE("/:parent/attachments/:id", s.handleDelete(kind))
		g.GET("/:parent/staged", s.handleStaged(kind))
		g.DELETE("/:parent/staged/:index", s.handleDiscardStaged(kind))
		g.POST("/:parent/flush", s.handleFlush(kind))
		g.DELETE("/:parent/flow", s.handleAbandon(kind))
	}
	r.GET("/previews/:ref", s.handlePreview)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.coords {
		c.Abandon()
	}
}

func (s *Server) camera() capture.Camera {
	if s.cfg.CameraFrameDir == "" {
		// No live capability on this host; sessions select the fallback.
		return nil
	}
	return &capture.DirectoryCamera{Dir: s.cfg.CameraFrameDir}
}

func (s *Server) coord(kind models.EntityKind, parent string) *coordinator.Coordinator {
	key := string(kind) + "/" + parent

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coords[key]; ok {
		return c
	}
	sc := capture.SessionConfig{
		Camera: s.camera(),
		Picker: capture.PickerFunc(func(ctx context.Context) (image.Image, error) {
			return s.takePicked(key)
		}),
		Tagger: s.tagger,
	}
	c := coordinator.New(s.store, sc, parent)
	s.coords[key] = c
	return c
}

func (s *Server) stashPicked(key string, img image.Image) {
	s.mu.Lock()
	s.picked[key] = img
	s.mu.Unlock()
}

func (s *Server) takePicked(key string) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.picked[key]
	if !ok {
		return nil, fmt.Errorf("no image was picked for this capture")
	}
	delete(s.picked, key)
	return img, nil
}

func (s *Server) handleCreateParent(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			ID string `json:"id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.store.CreateParent(c.Request.Context(), kind, body.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": body.ID, "kind": string(kind)})
	}
}

func (s *Server) handleStart(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))

		// Geolocation must outlive this request; it resolves in the
		// background while the preview runs.
		sess, err := co.StartCapture(context.Background())
		switch {
		case errors.Is(err, capture.ErrSessionActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, capture.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		case errors.Is(err, capture.ErrDeviceUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":    string(sess.State()),
			"fallback": sess.Fallback(),
		})
	}
}

func (s *Server) handleStatus(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))
		sess, ok := co.Session()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active capture session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":      string(sess.State()),
			"geo_status": string(sess.GeoStatus()),
			"fallback":   sess.Fallback(),
		})
	}
}

func (s *Server) handleShutter(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		parent := c.Param("parent")
		co := s.coord(kind, parent)
		sess, ok := co.Session()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active capture session"})
			return
		}

		// Fallback sessions deliver the picked file with the shutter call.
		// A live session shoots from its stream; treat an uploaded file as
		// a no-op there so it cannot bleed into a later fallback capture.
		if file, err := c.FormFile("image"); err == nil && sess.Fallback() {
			src, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			img, err := imaging.Decode(src)
			src.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.stashPicked(string(kind)+"/"+parent, img)
		}

		if err := sess.Shutter(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": string(sess.State())})
	}
}

func (s *Server) handleRetake(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))
		sess, ok := co.Session()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active capture session"})
			return
		}
		if err := sess.Retake(context.Background()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": string(sess.State())})
	}
}

func (s *Server) handleAccept(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))
		sess, ok := co.Session()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active capture session"})
			return
		}

		var body struct {
			Caption string `json:"caption"`
		}
		_ = c.ShouldBindJSON(&body)

		res, err := sess.Accept()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		att, err := co.OnCaptureAccepted(c.Request.Context(), res, body.Caption, c.GetHeader("X-Actor"))
		var uploadErr *coordinator.UploadError
		switch {
		case errors.As(err, &uploadErr):
			// Image retained; the client may POST capture/retry.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		case att == nil:
			c.JSON(http.StatusAccepted, gin.H{"staged": true, "staged_count": len(co.Staged())})
			return
		}
		c.JSON(http.StatusCreated, att)
	}
}

func (s *Server) handleRetry(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))
		att, err := co.RetryUpload(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
			return
		}
		c.JSON(http.StatusCreated, att)
	}
}

func (s *Server) handleCancel(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.coord(kind, c.Param("parent")).CancelCapture()
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleList(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		co := s.coord(kind, c.Param("parent"))
		if err := co.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, co.Attachments())
	}
}

func (s *Server) handleCaption(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var body struct {
			Caption string `json:"caption"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		att, err := s.coord(kind, c.Param("parent")).UpdateCaption(c.Request.Context(), id, body.Caption)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, att)
	}
}

func (s *Server) handleDelete(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.coord(kind, c.Param("parent")).Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleStaged(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		staged := s.coord(kind, c.Param("parent")).Staged()
		out := make([]gin.H, 0, len(staged))
		for _, item := range staged {
			entry := gin.H{
				"preview_ref": item.PreviewRef.String(),
				"caption":     item.Caption,
				"captured_at": item.CapturedAt,
			}
			if item.Geo.OK {
				entry["latitude"] = item.Geo.Latitude
				entry["longitude"] = item.Geo.Longitude
			}
			out = append(out, entry)
		}
		c.JSON(http.StatusOK, out)
	}
}

func (s *Server) handleDiscardStaged(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		i, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.coord(kind, c.Param("parent")).DiscardStaged(i); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleFlush creates the parent record and uploads every staged capture in
// order. Only the pending flow may flush.
func (s *Server) handleFlush(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("parent") != coordinator.Pending {
			c.JSON(http.StatusBadRequest, gin.H{"error": "flush is only valid for the pending flow"})
			return
		}
		var body struct {
			ParentID string `json:"parent_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.store.CreateParent(c.Request.Context(), kind, body.ParentID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		co := s.coord(kind, coordinator.Pending)
		created, err := co.Flush(c.Request.Context(), body.ParentID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":     err.Error(),
				"flushed":   created,
				"remaining": len(co.Staged()),
			})
			return
		}

		// The flow now serves a known parent; re-key it.
		s.rekeyFlushed(kind, body.ParentID, co)

		c.JSON(http.StatusOK, gin.H{"flushed": created})
	}
}

// rekeyFlushed moves a flushed pending coordinator under its real parent
// key. Any coordinator already registered there is torn down first so its
// session and previews are released.
func (s *Server) rekeyFlushed(kind models.EntityKind, parentID string, co *coordinator.Coordinator) {
	key := string(kind) + "/" + parentID
	s.mu.Lock()
	displaced, ok := s.coords[key]
	delete(s.coords, string(kind)+"/"+coordinator.Pending)
	s.coords[key] = co
	s.mu.Unlock()
	if ok && displaced != co {
		displaced.Abandon()
	}
}

func (s *Server) handleAbandon(kind models.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := string(kind) + "/" + c.Param("parent")
		s.mu.Lock()
		co, ok := s.coords[key]
		delete(s.coords, key)
		s.mu.Unlock()
		if ok {
			co.Abandon()
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handlePreview(c *gin.Context) {
	ref, err := uuid.Parse(c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	coords := make([]*coordinator.Coordinator, 0, len(s.coords))
	for _, co := range s.coords {
		coords = append(coords, co)
	}
	s.mu.Unlock()
	for _, co := range coords {
		if img, ok := co.Preview(ref); ok {
			c.Data(http.StatusOK, "image/jpeg", img)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown or revoked preview reference"})
}
