package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
)

func TestRunHooks_FailuresAreCollectedNotFatal(t *testing.T) {
	var ran []string
	l := &Lifecycle{Hooks: []PostCommitHook{
		HookFunc{HookName: "first", Fn: func(ctx context.Context, snap Snapshot) error {
			ran = append(ran, "first")
			return errors.New("pubsub down")
		}},
		HookFunc{HookName: "second", Fn: func(ctx context.Context, snap Snapshot) error {
			ran = append(ran, "second")
			panic("boom")
		}},
		HookFunc{HookName: "third", Fn: func(ctx context.Context, snap Snapshot) error {
			ran = append(ran, "third")
			return nil
		}},
	}}

	errs := l.runHooks(context.Background(), Snapshot{Request: models.Request{ID: 1}})
	if strings.Join(ran, ",") != "first,second,third" {
		t.Fatalf("every hook must run in order, ran %v", ran)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 hook errors, got %v", errs)
	}
	if !strings.HasPrefix(errs[0].Error(), "first:") || !strings.Contains(errs[1].Error(), "panic: boom") {
		t.Fatalf("unexpected hook errors %v", errs)
	}
}

func TestRunHooks_SurvivesCancelledCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctx = utils.SetCorrelationIdInContext(ctx, "cid-1")

	var seen Snapshot
	l := &Lifecycle{Hooks: []PostCommitHook{HookFunc{HookName: "render", Fn: func(ctx context.Context, snap Snapshot) error {
		seen = snap
		return ctx.Err()
	}}}}

	if errs := l.runHooks(ctx, Snapshot{}); len(errs) != 0 {
		t.Fatalf("hook context must not inherit cancellation, got %v", errs)
	}
	if seen.CorrelationId != "cid-1" {
		t.Fatalf("expected correlation id from context, got %q", seen.CorrelationId)
	}
}

type fakeRenderer struct {
	data []byte
	err  error
}

func (r fakeRenderer) Render(ctx context.Context, req models.Request, exit models.Exit) ([]byte, string, error) {
	return r.data, "application/pdf", r.err
}

func TestDocumentHook_StoresUnderExitYearAndFolio(t *testing.T) {
	var object string
	finalizer := &GCSDocumentFinalizer{
		Renderer: fakeRenderer{data: []byte("%PDF")},
		Upload: func(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
			object = objectName
			return "gs://bucket/" + objectName, nil
		},
	}
	exit := &models.Exit{ID: 5, Folio: "SAL-2024-000042", ExitDate: time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)}
	hook := &DocumentHook{Finalizer: finalizer}

	if err := hook.AfterCommit(context.Background(), Snapshot{Exit: exit}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if object != "exits/2024/SAL-2024-000042.pdf" {
		t.Fatalf("unexpected object name %q", object)
	}
	if exit.DocumentPath == nil || *exit.DocumentPath != "gs://bucket/exits/2024/SAL-2024-000042.pdf" {
		t.Fatalf("document path not recorded on exit: %v", exit.DocumentPath)
	}
}

func TestDocumentHook_SkipsWithoutExit(t *testing.T) {
	hook := &DocumentHook{Finalizer: &GCSDocumentFinalizer{Renderer: fakeRenderer{err: errors.New("must not render")}}}
	if err := hook.AfterCommit(context.Background(), Snapshot{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPRenderer_PostsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["exit"] == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Correlation-Id") != "cid-9" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-9")
	data, contentType, err := (&HTTPRenderer{Endpoint: srv.URL}).Render(ctx, models.Request{ID: 1}, models.Exit{Folio: "SAL-2024-000001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "%PDF-1.7" || contentType != "application/pdf" {
		t.Fatalf("unexpected render result %q %q", data, contentType)
	}
}

func TestHTTPRenderer_NonOKIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, _, err := (&HTTPRenderer{Endpoint: srv.URL}).Render(context.Background(), models.Request{}, models.Exit{}); err == nil {
		t.Fatalf("expected error for a 502 response")
	}
}
