package config

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	godotenv.Load()
}

// dsn builds the connection string from DB_* env. Times are parsed as UTC so entry_date ordering
// does not depend on the server timezone.
func dsn() string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", os.Getenv("DB_HOST"), os.Getenv("DB_PORT"))
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ConnectDatabaseWithRetry blocks until MySQL accepts a connection, then sets the global DB.
// main calls it after the listener is up so the readiness gate answers 503 meanwhile.
func ConnectDatabaseWithRetry() {
	target := dsn()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(target), initConfig())
		if err != nil {
			sleep := backoffFor(attempt)
			log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
			time.Sleep(sleep)
			continue
		}
		if sqlDB, derr := conn.DB(); derr == nil {
			configurePool(sqlDB)
		}
		if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
			log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
		}
		db = conn
		log.Printf("connected to database (attempt=%d)", attempt)
		return
	}
}

// configurePool applies DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS, DB_CONN_MAX_LIFETIME_SECONDS
// and DB_CONN_MAX_IDLE_TIME_SECONDS.
func configurePool(sqlDB *sql.DB) {
	if maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50); maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25); maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if life := intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300); life > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(life) * time.Second)
	}
	if idle := intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60); idle > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(idle) * time.Second)
	}
}

// SetDB replaces the global connection. Used by tools and tests that open their own handle.
func SetDB(conn *gorm.DB) {
	db = conn
}

func backoffFor(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         WriteGormLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}

// WriteGormLog writes SQL logs to GORM_LOG when set, otherwise errors go to stdout.
func WriteGormLog() logger.Interface {
	logFile := os.Getenv("GORM_LOG")
	if logFile == "" {
		return initLog()
	}
	f, err := os.Create(logFile)
	if err != nil {
		return initLog()
	}
	return logger.New(log.New(io.MultiWriter(f), "\r\n", log.LstdFlags), logger.Config{
		Colorful:      true,
		LogLevel:      logger.Info,
		SlowThreshold: time.Second,
	})
}
