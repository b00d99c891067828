// Package toolexec executes the tool calls requested by an agent turn.
//
// Each call is keyed by its tool name and canonical JSON arguments. A fresh
// cache entry (younger than TTL) answers the call without touching the tool,
// and a hit never refreshes the entry's insertion time. Identical calls in
// one batch execute once. Misses fan out concurrently under a limit, each
// with its own timeout, panic recovery and tracing span; a failing tool
// yields an error-shaped tool message and never aborts the batch.
//
// Results longer than MaxChars characters are evicted: the full payload is
// written to an artifact.Store and the transcript receives a preview plus a
// reference readable through the read_full_result tool.
package toolexec
