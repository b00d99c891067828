// Package guard holds the two checks that can stop a turn before tools run:
// the LoopGuard, which suppresses a tool batch that repeats one issued a
// fixed number of AI turns earlier, and the ApprovalPolicy, which defers
// sensitive actions until the caller grants permission.
package guard
