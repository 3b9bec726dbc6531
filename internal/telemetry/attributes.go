// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	PipelineIDKey     = "pipeline.id"
	PipelineOpKey     = "pipeline.op"
	PipelineStatusKey = "pipeline.status"
	PipelineStateKey  = "pipeline.state"

	FilePathKey = "file.path"
	FileFlagKey = "file.flag"
)

// HTTPAttributes describes a routed control API request.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// PipelineAttributes identifies a manager operation on one pipeline.
func PipelineAttributes(id int, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(PipelineIDKey, id),
		attribute.String(PipelineOpKey, op),
	}
}

// OutcomeAttributes records the result of a pipeline operation. An empty
// state is omitted.
func OutcomeAttributes(status, state string) []attribute.KeyValue {
	if state == "" {
		return []attribute.KeyValue{attribute.String(PipelineStatusKey, status)}
	}
	return []attribute.KeyValue{
		attribute.String(PipelineStatusKey, status),
		attribute.String(PipelineStateKey, state),
	}
}

// FileAttributes describes a file load or unload. An empty flag is omitted.
func FileAttributes(path, flag string) []attribute.KeyValue {
	if flag == "" {
		return []attribute.KeyValue{attribute.String(FilePathKey, path)}
	}
	return []attribute.KeyValue{
		attribute.String(FilePathKey, path),
		attribute.String(FileFlagKey, flag),
	}
}
