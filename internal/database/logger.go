package database

import (
	"time"

	"github.com/charlesng35/accounts/pkg/logger"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.WithModule("database").Sugar().Warnf(format, args...)
}

// newGormLogger routes slow queries and errors into the zap logger. Record
// not found is an expected outcome for point lookups and is not reported.
func newGormLogger() gormlogger.Interface {
	return gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

