package volume

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkVolume_UnhealthyWhenBackendUnreachable(t *testing.T) {
	v, err := NewNetworkVolume("vol-net", t.TempDir(), 2, "127.0.0.1:1")
	require.NoError(t, err)

	assert.False(t, v.IsHealthy(context.Background()))
}

func TestNetworkVolume_HealthyWhenBackendReachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	v, err := NewNetworkVolume("vol-net", t.TempDir(), 2, listener.Addr().String())
	require.NoError(t, err)

	assert.True(t, v.IsHealthy(context.Background()))
	assert.Equal(t, listener.Addr().String(), v.BackendAddr())
}
