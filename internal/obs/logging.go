// Package obs wires the ambient logging, tracing, and metrics stack for
// the core: go.uber.org/zap for structured logs and the trimmed-down
// go.opentelemetry.io/otel SDK for spans, grounded on contextd's
// cmd/contextd/main.go logger bootstrap and internal/telemetry/telemetry.go
// provider lifecycle — trimmed to the core SDK only, with no OTLP
// exporter registered, since there is no network transport in this
// module's scope (spec §1 Non-goals: "HTTP, RPC ... transports").
package obs

import (
	"go.uber.org/zap"
)

// NewLogger returns a production zap logger for "prod"/"" env, or a more
// verbose development logger for "dev", matching contextd's env-switched
// logger construction in cmd/contextd/main.go.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NopLogger returns a logger that discards everything, for tests and for
// callers that pass no logger to store.NewStore.
func NopLogger() *zap.Logger {
	return zap.NewNop()
}
