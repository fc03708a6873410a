package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "store"

// Logger sends GORM logs to the store subsystem.
type Logger struct {
	SlowThreshold time.Duration
	level         gormlogger.LogLevel
}

var _ gormlogger.Interface = (*Logger)(nil)

// NewLogger returns a GORM logger that reports queries slower than slowThreshold as warnings.
func NewLogger(slowThreshold time.Duration) *Logger {
	return &Logger{SlowThreshold: slowThreshold, level: gormlogger.Info}
}

func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &Logger{SlowThreshold: l.SlowThreshold, level: level}
}

func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		tflog.SubsystemInfo(ctx, Subsystem, fmt.Sprintf(msg, data...))
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		tflog.SubsystemWarn(ctx, Subsystem, fmt.Sprintf(msg, data...))
	}
}

func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		tflog.SubsystemError(ctx, Subsystem, fmt.Sprintf(msg, data...))
	}
}

// Trace logs every statement. Parameters are never logged, only the SQL with placeholders.
func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := map[string]any{
		"file":        utils.FileWithLineNum(),
		"duration_ms": elapsed.Milliseconds(),
		"rows":        rows,
		"sql":         sql,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, Subsystem, "SQL statement failed", fields)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.level >= gormlogger.Warn:
		tflog.SubsystemWarn(ctx, Subsystem, fmt.Sprintf("Slow SQL >= %v", l.SlowThreshold), fields)
	default:
		tflog.SubsystemTrace(ctx, Subsystem, "SQL trace", fields)
	}
}

// ParamsFilter drops bound parameters from logged SQL.
func (l *Logger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}
