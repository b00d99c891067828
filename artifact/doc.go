// Package artifact contains the blob store used to keep oversized tool
// results out of the conversation state.
//
// When a tool result is evicted, only a preview stays in-band; the complete
// payload is saved here under the thread it belongs to and can be read back
// through the read_full_result tool. Implementations (bounded in-memory,
// S3-compatible object storage) can be swapped without touching callers.
package artifact
