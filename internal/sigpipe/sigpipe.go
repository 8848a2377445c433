// Package sigpipe controls the process-wide disposition of SIGPIPE.
//
// The Go runtime already turns EPIPE on sockets into an error return, but a
// process embedding C code, or one that installed a SIGPIPE handler of its
// own, can still be terminated when a peer closes its end abruptly. Servers
// and clients opt into Ignore explicitly; nothing here runs as a side effect
// of construction.
package sigpipe

import (
	"os/signal"
	"sync"
	"syscall"
)

var state struct {
	mtx     sync.Mutex
	ignored bool
}

// Ignore makes writes to a closed peer report an error instead of terminating the process.
// Calling it while already ignoring is a no-op.
func Ignore() {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	if state.ignored {
		return
	}
	signal.Ignore(syscall.SIGPIPE)
	state.ignored = true
}

// Restore resets SIGPIPE to its default disposition.
// Calling it while not ignoring is a no-op.
func Restore() {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	if !state.ignored {
		return
	}
	signal.Reset(syscall.SIGPIPE)
	state.ignored = false
}

func Ignored() bool {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	return state.ignored
}
