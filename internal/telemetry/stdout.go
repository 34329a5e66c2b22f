package telemetry

import (
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/stream"
)

// LogObserver logs every Every-th completion of each direction, and the
// final one.
type LogObserver struct {
	logger logging.Logger
	every  int
}

func NewLogObserver(logger logging.Logger, every int) LogObserver {
	if every <= 0 {
		every = 1
	}
	return LogObserver{logger: logging.Or(logger), every: every}
}

func (o LogObserver) Progress(p stream.Progress) {
	if p.Completions%o.every != 0 && p.Remaining > 0 {
		return
	}
	o.logger.Debug("stream progress",
		logging.Field{Key: "subsystem", Value: "telemetry"},
		logging.Field{Key: "dir", Value: p.Direction.String()},
		logging.Field{Key: "completions", Value: p.Completions},
		logging.Field{Key: "samples", Value: p.Samples},
		logging.Field{Key: "remaining", Value: p.Remaining},
	)
}
