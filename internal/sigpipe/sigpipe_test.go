package sigpipe

import (
	"os/signal"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnoreRestoreIdempotent(t *testing.T) {
	defer Restore()

	Ignore()
	Ignore()
	assert.True(t, Ignored())
	assert.True(t, signal.Ignored(syscall.SIGPIPE))

	Restore()
	Restore()
	assert.False(t, Ignored())
}
