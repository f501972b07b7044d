package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of background work that outlives the request that caused it.
type Job struct {
	logger *slog.Logger
	start  time.Time
	now    func() time.Time
}

// StartJob derives a logger for background work from base. When requestID is
// set it is attached so the job can be correlated with its request.
func StartJob(ctx context.Context, base *slog.Logger, name, requestID string, args ...any) (context.Context, *Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if base == nil {
		base = slog.Default()
	}

	logger := base.With(slog.String("job_id", uuid.NewString()), slog.String("job", name))
	if requestID != "" {
		logger = logger.With(slog.String("request_id", requestID))
		ctx = WithRequestID(ctx, requestID)
	}
	if len(args) > 0 {
		logger = logger.With(args...)
	}

	return WithLogger(ctx, logger), &Job{logger: logger, start: time.Now(), now: time.Now}
}

// Logger returns the job's logger.
func (j *Job) Logger() *slog.Logger {
	if j == nil {
		return slog.Default()
	}
	return j.logger
}

// End records how the job finished. Failures are logged by the caller, which
// knows whether they are retried.
func (j *Job) End(err error) {
	if j == nil {
		return
	}
	attrs := []any{slog.Duration("duration", j.now().Sub(j.start))}
	if err != nil {
		j.logger.Debug("job failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	j.logger.Debug("job completed", attrs...)
}
