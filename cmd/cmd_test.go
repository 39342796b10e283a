package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandParsesPositionalArgs(t *testing.T) {
	var got Config
	root := NewRootCommand(func(cfg Config) error {
		got = cfg
		return nil
	})

	root.SetArgs([]string{"127.0.0.1", "8080", "--dir", "/tmp/uploads"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "127.0.0.1", got.Address)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, "/tmp/uploads", got.Dir)
}

func TestRootCommandRejectsBadPort(t *testing.T) {
	root := NewRootCommand(func(Config) error { return nil })
	root.SetArgs([]string{"127.0.0.1", "not-a-port"})
	assert.Error(t, root.Execute())
}

func TestRootCommandRejectsMissingArgs(t *testing.T) {
	root := NewRootCommand(func(Config) error { return nil })
	root.SetArgs([]string{"127.0.0.1"})
	assert.Error(t, root.Execute())
}
