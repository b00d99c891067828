// Package model defines the provider-agnostic abstractions used by agent
// nodes to talk to language models.
//
// A Model streams zero or more partial text chunks followed by one final
// Response carrying the full text and any tool calls. Requests and responses
// use core.Message and core.ToolCall so higher layers never see vendor SDK
// types. Provider errors that are worth retrying (rate limits, 5xx, timeouts)
// are wrapped as core.TransientError by the adapters; everything else is
// returned as-is.
//
// MockModel is a scriptable in-memory implementation for tests and demos.
package model
