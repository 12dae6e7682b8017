package testutil

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder-backend/internal/data/db"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

var dbSeq atomic.Int64

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logg, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return logg
}

// DB returns a freshly migrated database private to the test. It is an in-memory
// sqlite database unless TEST_POSTGRES_DSN points at a postgres instance.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	opts := db.Options{Silent: true}
	if dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN")); dsn != "" {
		opts.Driver = db.DriverPostgres
		opts.DSN = dsn
	} else {
		name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
		opts.Driver = db.DriverSQLite
		opts.DSN = fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))
	}
	svc, err := db.Open(logger.NewNop(), opts)
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	tb.Cleanup(func() { _ = svc.Close() })
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	return svc.DB()
}
