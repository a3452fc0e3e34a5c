//go:build !debug

// Package check provides invariant assertions that are compiled in only
// with the debug build tag.
package check

// Assert does nothing without the debug tag.
func Assert(bool, string) {}

// Assertf does nothing without the debug tag.
func Assertf(bool, string, ...any) {}
