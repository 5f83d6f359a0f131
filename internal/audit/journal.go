package audit

import (
	"context"
	"time"

	"github.com/nerrad567/pcd-core/internal/driver"
)

// recordTimeout bounds a single journal write.
const recordTimeout = 2 * time.Second

// Logger defines the logging interface used by the Journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal records lifecycle events from a driver registry. Read and write
// events are skipped; they go to telemetry instead.
type Journal struct {
	repo   Repository
	logger Logger
}

var _ driver.Observer = (*Journal)(nil)

// NewJournal creates a Journal writing to repo.
func NewJournal(repo Repository) *Journal {
	return &Journal{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for failed writes.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// DeviceEvent implements driver.Observer.
func (j *Journal) DeviceEvent(e driver.Event) {
	if !e.Type.Lifecycle() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	entry := EntryFromEvent(e)
	if err := j.repo.Record(ctx, &entry); err != nil {
		j.logger.Error("journalling device event failed",
			"type", e.Type,
			"number", e.Number,
			"error", err,
		)
	}
}
