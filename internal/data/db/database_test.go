package db

import (
	"testing"

	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(logger.NewNop(), Options{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(logger.NewNop(), Options{Driver: DriverSQLite}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	svc, err := Open(logger.NewNop(), Options{Driver: DriverSQLite, DSN: "file:migrate_test?mode=memory&cache=shared", Silent: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()
	if err := AutoMigrateAll(svc.DB()); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	for _, table := range []string{"conversation_session", "generation_transaction", "course", "course_section", "lesson"} {
		if !svc.DB().Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
}
