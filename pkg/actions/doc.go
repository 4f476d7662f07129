// Package actions provides the persistent actions every burrow node ships
// with: sleep, echo, fail and probe. They exercise the whole
// assignment, cancellation and completion path from the command line, and
// probe watches an HTTP, TCP or exec target until it turns unhealthy.
package actions
