package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestOutboxDispatcher_NextBackoff(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second}
	cases := map[int]time.Duration{
		1:  5 * time.Second,
		2:  10 * time.Second,
		4:  40 * time.Second,
		8:  320 * time.Second,
		9:  10 * time.Minute,
		30: 10 * time.Minute,
	}
	for attempt, want := range cases {
		if got := d.nextBackoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

// unreachableDB returns a handle whose every statement fails to connect.
func unreachableDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pw@tcp(127.0.0.1:1)/outbox?timeout=1s",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestOutboxDispatcher_MarkPublishFailedLogsUpdateError(t *testing.T) {
	cases := []struct {
		name        string
		maxAttempts int
		attempt     int
		context     string
	}{
		{"retry", 5, 1, "update failed"},
		{"dead", 3, 3, "update dead"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, hook := test.NewNullLogger()
			d := &OutboxDispatcher{
				DB:             unreachableDB(t),
				Logger:         log,
				MaxAttempts:    tc.maxAttempts,
				InitialBackoff: time.Second,
			}

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			d.markPublishFailed(ctx, 42, errors.New("publish timeout"), tc.attempt)

			found := false
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.ErrorLevel && e.Data["funcName"] == "markPublishFailed" && e.Data["context"] == tc.context {
					found = true
					if e.Data["data"] != 42 {
						t.Fatalf("expected record id 42, got %v", e.Data["data"])
					}
				}
			}
			if !found {
				t.Fatalf("status update failure was not logged; entries: %d", len(hook.AllEntries()))
			}
		})
	}
}
