// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing conversation states, tool calls and
// run contexts, and when asserting on emitted events. They are not intended
// for production usage.
package testutil
