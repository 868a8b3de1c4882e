package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPListenAddr_Loopback(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", mcpListenAddr(8080))
}

func TestMCPServeCmd_Flags(t *testing.T) {
	allowLocal := mcpServeCmd.Flags().Lookup("allow-local")
	require.NotNil(t, allowLocal)
	assert.Equal(t, "false", allowLocal.DefValue)

	port := mcpServeCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)
}
