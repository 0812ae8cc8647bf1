package toolmcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/tool"
)

func TestEnvSlice(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	got := envSlice(map[string]string{"A": "1"})
	require.Len(t, got, 1)
	assert.Equal(t, "A=1", got[0])
}

func TestLoadUnsupportedTransport(t *testing.T) {
	l := NewLoader(Config{Name: "broken", Transport: "carrier-pigeon"})
	err := l.Load(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mcp transport")
}

func TestInvokeBeforeConnectFails(t *testing.T) {
	l := NewLoader(Config{Name: "unconnected", Transport: TransportStdio, Command: "true"})
	_, err := l.Invoke(context.Background(), "whatever", tool.Args{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
