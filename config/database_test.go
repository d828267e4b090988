package config

import (
	"testing"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

func TestDSN_TCPWithUTCTimes(t *testing.T) {
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "p@ss:word")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "procurement")

	cfg, err := mysqlDriver.ParseDSN(dsn())
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if cfg.Net != "tcp" || cfg.Addr != "db.internal:3306" {
		t.Fatalf("unexpected address %s(%s)", cfg.Net, cfg.Addr)
	}
	if cfg.User != "root" || cfg.Passwd != "p@ss:word" || cfg.DBName != "procurement" {
		t.Fatalf("unexpected credentials or database: %+v", cfg)
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC {
		t.Fatalf("expected parseTime in UTC, got parseTime=%v loc=%v", cfg.ParseTime, cfg.Loc)
	}
}

func TestBackoffFor_CapsAtThirtySeconds(t *testing.T) {
	cases := map[int]time.Duration{1: 2 * time.Second, 4: 16 * time.Second, 5: 30 * time.Second, 12: 30 * time.Second}
	for attempt, want := range cases {
		if got := backoffFor(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}
