package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "reqrep.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestSubcommandRequiringConfig(t *testing.T) {
	var servers int
	AddSubcommand(&Subcommand{
		Use: "test-with-config",
		Run: func(s *Subcommand, args []string) error {
			servers = len(s.Config().Servers)
			return nil
		},
	})

	p := writeConfig(t, `
servers:
  - name: a
    type: stream
    port: 9000
`)
	require.NoError(t, Execute([]string{"--config", p, "test-with-config"}))
	assert.Equal(t, 1, servers)

	bad := writeConfig(t, "servers: [")
	err := Execute([]string{"--config", bad, "test-with-config"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse config")
}

func TestSubcommandWithoutConfig(t *testing.T) {
	var parseErr error
	var args []string
	AddSubcommand(&Subcommand{
		Use:             "test-without-config",
		NoRequireConfig: true,
		Run: func(s *Subcommand, a []string) error {
			parseErr = s.ConfigParsingError()
			args = a
			return nil
		},
	})

	missing := filepath.Join(t.TempDir(), "missing.yml")
	require.NoError(t, Execute([]string{"--config", missing, "test-without-config", "x", "y"}))
	assert.Error(t, parseErr)
	assert.Equal(t, []string{"x", "y"}, args)
}

func TestSubcommandErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	AddSubcommand(&Subcommand{
		Use:             "test-failing",
		NoRequireConfig: true,
		Run:             func(*Subcommand, []string) error { return boom },
	})
	err := Execute([]string{"test-failing"})
	assert.ErrorIs(t, err, boom)
}
