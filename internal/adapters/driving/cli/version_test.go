package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd_Use(t *testing.T) {
	assert.Equal(t, "version", versionCmd.Use)
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, nil, "", "version")

	require.NoError(t, err)
	assert.Contains(t, out, "ragpipe version test-version-1.0.0")
}

func TestVersionCmd_SkipsBootstrap(t *testing.T) {
	called := false
	SetBootstrap(func(context.Context, BootstrapOptions) (*Services, error) {
		called = true
		return &Services{}, nil
	})
	defer SetBootstrap(nil)

	out, err := execute(t, nil, "", "version")

	require.NoError(t, err)
	assert.False(t, called)
	assert.Contains(t, out, "ragpipe version")
}
