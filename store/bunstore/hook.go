package bunstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// queryLogger is a bun.QueryHook writing one debug line per statement.
type queryLogger struct {
	logger zerolog.Logger
}

var _ bun.QueryHook = (*queryLogger)(nil)

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	ev := h.logger.Debug()
	if event.Err != nil {
		ev = h.logger.Warn().Err(event.Err)
	}
	ev.Str("operation", event.Operation()).
		Dur("duration", time.Since(event.StartTime)).
		Str("query", event.Query).
		Msg("bun query")
}
