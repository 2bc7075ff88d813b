// Package core is the orchestration layer.  It owns the one upstream
// session and its poller behind [Proxy], the integer-status boundary a
// host application drives, and builds the CLI relay on top of it.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  poller  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode.  Each mode owns its full
// lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
