package store

import (
	"context"
	"time"

	"github.com/juju/loggo"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes GORM's query log into loggo. SQL is only rendered when
// TRACE is enabled for roomchat.store.
type gormLogger struct {
	logger loggo.Logger
}

func newGormLogger(l loggo.Logger) gormlogger.Interface {
	return gormLogger{logger: l}
}

func (g gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return g
}

func (g gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	g.logger.Infof(msg, args...)
}

func (g gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	g.logger.Warningf(msg, args...)
}

func (g gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	g.logger.Errorf(msg, args...)
}

func (g gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !IsNotFound(err) && !IsDuplicate(err):
		sql, rows := fc()
		g.logger.Errorf("query failed after %s (rows %d): %s: %v", elapsed, rows, sql, err)
	case elapsed > slowQueryThreshold:
		sql, rows := fc()
		g.logger.Warningf("slow query %s (rows %d): %s", elapsed, rows, sql)
	case g.logger.IsTraceEnabled():
		sql, rows := fc()
		g.logger.Tracef("%s (rows %d): %s", elapsed, rows, sql)
	}
}

var _ gormlogger.Interface = gormLogger{}