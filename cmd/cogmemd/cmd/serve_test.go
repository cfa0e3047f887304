package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_HasTransportFlag(t *testing.T) {
	cmd := newServeCmd()

	flag := cmd.Flags().Lookup("transport")
	require.NotNil(t, flag, "serve should have --transport flag")
	assert.Equal(t, "stdio", flag.DefValue)
}

func TestServeCmd_HasAddrFlag(t *testing.T) {
	cmd := newServeCmd()

	flag := cmd.Flags().Lookup("addr")
	require.NotNil(t, flag, "serve should have --addr flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestServeCmd_UnknownTransportRejectedAtRuntime(t *testing.T) {
	// The transport flag accepts any string at parse time; validation
	// happens inside mcp.Server.Serve, not cobra flag parsing.
	cmd := newServeCmd()
	assert.NoError(t, cmd.Flags().Set("transport", "carrier-pigeon"))
}
