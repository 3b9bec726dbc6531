// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	pipelineIDKey
)

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// ContextWithRequestID tags ctx with an HTTP request correlation id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(orBackground(ctx), requestIDKey, id)
}

// ContextWithPipelineID tags ctx with the pipeline an operation targets.
func ContextWithPipelineID(ctx context.Context, id int) context.Context {
	return context.WithValue(orBackground(ctx), pipelineIDKey, id)
}

// RequestIDFromContext returns the request id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := orBackground(ctx).Value(requestIDKey).(string)
	return id
}

// PipelineIDFromContext returns the pipeline id carried by ctx.
func PipelineIDFromContext(ctx context.Context) (int, bool) {
	id, ok := orBackground(ctx).Value(pipelineIDKey).(int)
	return id, ok
}

// WithContext copies the correlation ids found in ctx onto logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rid := RequestIDFromContext(ctx)
	pid, hasPID := PipelineIDFromContext(ctx)
	if rid == "" && !hasPID {
		return logger
	}
	lc := logger.With()
	if rid != "" {
		lc = lc.Str(FieldRequestID, rid)
	}
	if hasPID {
		lc = lc.Int(FieldPipelineID, pid)
	}
	return lc.Logger()
}

// WithComponentFromContext is WithComponent plus the ids carried by ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
