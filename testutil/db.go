// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"taskflow/database"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MockDB opens gorm on top of sqlmock. Statements run without an implicit
// transaction so tests only expect the queries they care about.
func MockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError:         true,
	})
	if err != nil {
		t.Fatalf("gorm: %v", err)
	}
	return db, mock
}

// UseMockDB installs a mock as database.DB for the duration of the test.
func UseMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := MockDB(t)
	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
	return db, mock
}
