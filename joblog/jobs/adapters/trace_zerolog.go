package adapters

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type spanKey struct{}

// span is the active tracing scope carried in a context.
type span struct {
	id     string
	logger zerolog.Logger
}

// ZerologTracer writes job lifecycle spans and events as structured log lines.
// Spans are logged at debug level unless they fail; events at info.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a tracer that logs through logger.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan opens a span named name. The returned context carries it, so
// events and child spans logged with that context are linked to it.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	s := span{id: uuid.NewString()}

	lc := t.logger.With().Str("span", name).Str("span_id", s.id)
	if parent, ok := spanFrom(ctx); ok {
		lc = lc.Str("parent_id", parent.id)
	}
	s.logger = lc.Fields(attrs).Logger()

	started := time.Now()
	s.logger.Debug().Str("event", "span_start").Msg("Span started")

	finish := func(err error) {
		ev := s.logger.Debug()
		if err != nil {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("event", "span_end").
			Dur("duration", time.Since(started)).
			Msg("Span finished")
	}

	return context.WithValue(ctx, spanKey{}, s), finish
}

// Event logs name with attrs, inside the span of ctx when there is one.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if s, ok := spanFrom(ctx); ok {
		logger = s.logger
	}
	logger.Info().Fields(attrs).Str("event", name).Msg("Trace event")
}

func spanFrom(ctx context.Context) (span, bool) {
	s, ok := ctx.Value(spanKey{}).(span)
	return s, ok
}

var _ ports.Tracer = (*ZerologTracer)(nil)
