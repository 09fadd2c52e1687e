package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span is a named unit of work whose completion is logged with its duration.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	now    func() time.Time
}

// StartSpan derives a child span from ctx. The trace id is inherited from the
// context, or from the request id when no trace has started yet, so service
// logs line up with the request log. attrs are slog key/value pairs added to
// every record logged through the returned context.
func StartSpan(ctx context.Context, name string, attrs ...any) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	if TraceIDFromContext(ctx) == "" {
		traceID := RequestIDFromContext(ctx)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = WithTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	spanID := uuid.NewString()
	logger = logger.With(slog.String("span_id", spanID), slog.String("span_name", name))
	if parent := SpanIDFromContext(ctx); parent != "" {
		logger = logger.With(slog.String("parent_span_id", parent))
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}

	ctx = WithSpanID(WithLogger(ctx, logger), spanID)
	return ctx, &Span{name: name, logger: logger, start: time.Now(), now: time.Now}
}

// End emits the completion record. It is safe to call on a nil span.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Info("span completed", slog.Duration("duration", s.now().Sub(s.start)))
}
