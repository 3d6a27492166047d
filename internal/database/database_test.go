package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/flowmux/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSQLite(t *testing.T) {
	db, err := New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, testLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "oracle"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	d, err := getDialector(config.DatabaseConfig{Driver: "sqlite", DSN: "/tmp/runs.db"})
	require.NoError(t, err)
	require.NotNil(t, d)

	// DSNs that already carry parameters get the pragmas appended.
	d, err = getDialector(config.DatabaseConfig{Driver: "sqlite", DSN: "/tmp/runs.db?cache=shared"})
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db, err := New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, testLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Exec("CREATE TABLE t (n INTEGER)").Error)

	boom := errors.New("boom")
	err = db.Transaction(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO t (n) VALUES (1)").Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Zero(t, count)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("silent"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Warn, gormLogLevel("warn"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel("bogus"))
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := strings.Repeat("x", maxSQLLogLength+50)
	got := truncateSQL(long)
	assert.Len(t, got, maxSQLLogLength+len("... (truncated)"))
	assert.True(t, strings.HasSuffix(got, "... (truncated)"))
}

// captureHandler records log records for assertions.
type captureHandler struct {
	records *[]slog.Record
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}
func (h captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h captureHandler) WithGroup(string) slog.Handler      { return h }

func TestTraceLogsErrors(t *testing.T) {
	var records []slog.Record
	l := newGormLogger("error", slog.New(captureHandler{records: &records}))

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM runs", 0
	}, errors.New("table missing"))

	require.Len(t, records, 1)
	assert.Equal(t, "database error", records[0].Message)
	assert.Equal(t, slog.LevelError, records[0].Level)
}

func TestTraceSilentSkipsEverything(t *testing.T) {
	var records []slog.Record
	l := newGormLogger("silent", slog.New(captureHandler{records: &records}))

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, errors.New("ignored"))

	assert.Empty(t, records)
}
