// Package core provides the foundational domain types and execution contexts
// used by markgraph. It defines the core abstractions for:
//
//   - Messages and tool calls (the conversation transcript)
//   - State and Update (the per-thread conversation state and its reducers)
//   - Events (the typed stream emitted while a turn runs)
//   - RunContext / ToolContext (scoped execution for nodes and tools)
//   - The error taxonomy shared by every component
//
// Persistence, graph execution and concrete agents live in their own packages
// and depend on the small types defined here.
package core
