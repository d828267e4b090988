package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Snapshot is the committed state handed to post-commit hooks.
type Snapshot struct {
	Event         string               `json:"event"`
	Request       models.Request       `json:"request"`
	Exit          *models.Exit         `json:"exit,omitempty"`
	FromStatus    models.RequestStatus `json:"from_status"`
	Actor         models.Actor         `json:"actor"`
	Now           time.Time            `json:"now"`
	CorrelationId string               `json:"correlation_id"`
}

// PostCommitHook runs after the lifecycle transaction committed. Its failure is reported,
// never rolled back: stock has already moved.
type PostCommitHook interface {
	Name() string
	AfterCommit(ctx context.Context, snap Snapshot) error
}

// HookFunc adapts a function to PostCommitHook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, snap Snapshot) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) AfterCommit(ctx context.Context, snap Snapshot) error { return h.Fn(ctx, snap) }

func (l *Lifecycle) runHooks(ctx context.Context, snap Snapshot) []error {
	if len(l.Hooks) == 0 {
		return nil
	}
	if snap.CorrelationId == "" {
		snap.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	// Hooks outlive a cancelled request context; the commit already happened.
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var errs []error
	for _, h := range l.Hooks {
		if err := runHook(hookCtx, h, snap); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
			if l.Logger != nil {
				l.Logger.WithFields(logrus.Fields{
					"field":          "PostCommitHook",
					"hook":           h.Name(),
					"event":          snap.Event,
					"request_id":     snap.Request.ID,
					"correlation_id": snap.CorrelationId,
				}).Warn("post-commit hook failed: " + err.Error())
			}
		}
	}
	return errs
}

func runHook(ctx context.Context, h PostCommitHook, snap Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.AfterCommit(ctx, snap)
}

// NotificationHook enqueues the event in the outbox; the dispatcher publishes it.
type NotificationHook struct {
	DB *gorm.DB
}

func (h *NotificationHook) Name() string { return "notification" }

func (h *NotificationHook) AfterCommit(ctx context.Context, snap Snapshot) error {
	if h.DB == nil {
		return errors.New("notification hook has no database")
	}
	rec := models.NotificationOutbox{
		EventType:     snap.Event,
		RequestId:     snap.Request.ID,
		RequestKind:   string(snap.Request.Kind),
		Folio:         snap.Request.Folio,
		Status:        string(snap.Request.Status),
		ActorId:       snap.Actor.UserId,
		OccurredAt:    snap.Now,
		CorrelationId: snap.CorrelationId,
	}
	if snap.Exit != nil {
		id := snap.Exit.ID
		rec.ExitId = &id
	}
	return models.EnqueueNotification(h.DB.WithContext(ctx), &rec)
}

// DocumentFinalizer renders and stores the paperwork of an issued exit and returns its storage path.
type DocumentFinalizer interface {
	Finalize(ctx context.Context, req models.Request, exit models.Exit) (string, error)
}

// DocumentHook finalizes exit paperwork and links the stored document to the exit.
type DocumentHook struct {
	DB        *gorm.DB
	Finalizer DocumentFinalizer
}

func (h *DocumentHook) Name() string { return "document" }

func (h *DocumentHook) AfterCommit(ctx context.Context, snap Snapshot) error {
	if snap.Exit == nil || h.Finalizer == nil {
		return nil
	}
	path, err := h.Finalizer.Finalize(ctx, snap.Request, *snap.Exit)
	if err != nil {
		return err
	}
	snap.Exit.DocumentPath = &path
	if h.DB == nil {
		return nil
	}
	return models.SetExitDocumentPath(ctx, h.DB, snap.Exit.ID, path)
}

// Renderer turns a request and its exit into document bytes and a content type.
type Renderer interface {
	Render(ctx context.Context, req models.Request, exit models.Exit) ([]byte, string, error)
}

// GCSDocumentFinalizer stores rendered documents in Cloud Storage.
type GCSDocumentFinalizer struct {
	Renderer Renderer
	Upload   func(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

func NewGCSDocumentFinalizer(r Renderer) *GCSDocumentFinalizer {
	return &GCSDocumentFinalizer{Renderer: r, Upload: utils.UploadBytesToGCS}
}

func (f *GCSDocumentFinalizer) Finalize(ctx context.Context, req models.Request, exit models.Exit) (string, error) {
	data, contentType, err := f.Renderer.Render(ctx, req, exit)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", exit.Folio, err)
	}
	objectName := fmt.Sprintf("exits/%d/%s.pdf", exit.ExitDate.UTC().Year(), exit.Folio)
	return f.Upload(ctx, objectName, data, contentType)
}

// HTTPRenderer posts the snapshot to an external rendering service.
type HTTPRenderer struct {
	Endpoint string
	Client   *http.Client
}

func (r *HTTPRenderer) Render(ctx context.Context, req models.Request, exit models.Exit) ([]byte, string, error) {
	body, err := json.Marshal(map[string]interface{}{"request": req, "exit": exit})
	if err != nil {
		return nil, "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		httpReq.Header.Set("X-Correlation-Id", cid)
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("renderer returned %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return data, contentType, nil
}

// DefaultHooks wires the notification outbox and, when a renderer is configured, document storage.
func DefaultHooks(db *gorm.DB, renderer Renderer) []PostCommitHook {
	hooks := []PostCommitHook{&NotificationHook{DB: db}}
	if renderer != nil {
		hooks = append(hooks, &DocumentHook{DB: db, Finalizer: NewGCSDocumentFinalizer(renderer)})
	} else {
		config.GetLogger().Info("document renderer not configured; exits are issued without documents")
	}
	return hooks
}
