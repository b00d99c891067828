// Package agent contains the two kinds of agent node that drive a turn:
//
//  1. Specialist: a domain agent with its own prompt template and tool subset
//  2. Supervisor: the router that names the next specialist through the
//     route tool, calls utility tools, or answers directly
//
// Both are plain graph nodes (Run(rc, st) (core.Update, error)) and never
// mutate state in place. Model calls go through an Invoker, which owns the
// per-attempt timeout, optional rate limiting and the bounded exponential
// backoff applied to transient failures. Output that carries the approval
// sentinel is parked as a pending approval before it reaches the history.
package agent
