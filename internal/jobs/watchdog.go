package jobs

import (
	"context"

	"github.com/sirupsen/logrus"
)

const defaultWatchdogBatch = 100

// ExpiredSessionAbandoner closes call sessions that outlived the maximum
// call duration and reports how many it closed.
type ExpiredSessionAbandoner interface {
	AbandonExpired(ctx context.Context, limit int) (int, error)
}

// SessionWatchdog abandons stale pending and ongoing sessions whose end
// webhook never arrived.
type SessionWatchdog struct {
	sessions ExpiredSessionAbandoner
	batch    int
	logger   logrus.FieldLogger
}

// NewSessionWatchdog creates a watchdog closing at most batch sessions per
// round trip to the store.
func NewSessionWatchdog(sessions ExpiredSessionAbandoner, batch int, logger logrus.FieldLogger) *SessionWatchdog {
	if batch <= 0 {
		batch = defaultWatchdogBatch
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionWatchdog{sessions: sessions, batch: batch, logger: logger}
}

// ProcessJobs keeps abandoning batches until a batch comes back short.
func (w *SessionWatchdog) ProcessJobs(ctx context.Context) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.sessions.AbandonExpired(ctx, w.batch)
		total += n
		if err != nil {
			return err
		}
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.logger.WithField("sessions", total).Info("abandoned expired call sessions")
	}
	return nil
}
