package database

import (
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/inspectsync/pkg/logger"
)

const slowQueryThreshold = 250 * time.Millisecond

// zapWriter forwards gorm's printf-style output to the database module logger.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

// newGormLogger reports slow queries and errors only. Missing rows are normal
// for cache lookups and are not logged.
func newGormLogger() gormlogger.Interface {
	return gormlogger.New(zapWriter{log: logger.WithModule("database").Sugar()}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
