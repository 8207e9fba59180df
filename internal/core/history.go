package core

import (
	"context"
	"fmt"

	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/updater"
)

// recordReport stores one finished refresh check. History failures are
// logged and never affect the refresh itself.
func (s *Service) recordReport(ctx context.Context, rep updater.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), HistoryTimeout)
	defer cancel()

	if err := s.history.Record(ctx, newEvent(rep)); err != nil {
		s.log.Warn("failed to record refresh history",
			"trigger", rep.Trigger,
			"error", err,
		)
	}
}

func newEvent(rep updater.Report) history.Event {
	e := history.Event{
		ID:          history.NewID(),
		Trigger:     string(rep.Trigger),
		Outcome:     string(rep.Outcome),
		StartedAt:   rep.StartedAt,
		Duration:    rep.Duration,
		RecordCount: rep.RecordCount,
		ETag:        rep.ETag,
	}
	if rep.Warning != nil {
		e.Warning = rep.Warning.Error()
	}
	if rep.Err != nil {
		e.Error = fmt.Sprintf("%s: %v", MapError(rep.Err).Code, rep.Err)
	}
	return e
}
