// Package types holds the small value types shared between burrow's
// packages: cluster nodes, persistent task identifiers and the local task
// state reported to status tooling.
package types
