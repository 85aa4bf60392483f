// Package runner is the service layer over a single cooperative worker. It
// records every worker operation as an execution in the store, persists and
// restores loaded modules, and streams console output through the console
// broker.
package runner
