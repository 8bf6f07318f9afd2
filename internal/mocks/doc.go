// Package mocks provides hand-rolled mock implementations of the store and
// execution interfaces for use in tests across packages. Each mock carries
// overridable Fn fields; when an Fn field is nil the mock falls back to a
// working in-memory implementation so tests only stub what they care about.
package mocks
