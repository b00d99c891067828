// Package logging provides a minimal logging interface and adapters for markgraph.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, agents and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - StructuredLogger wrapping Go's structured logging
//   - ZapAdapter for deployments that standardize on zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(sup, specialists, func(o *engine.Options) { o.Logger = logger })
package logging
