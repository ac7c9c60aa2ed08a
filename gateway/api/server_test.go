package api

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerLifecycle(t *testing.T) {
	port := freePort(t)
	s := NewServer(&MockGateway{}, prometheus.NewRegistry(), zerolog.New(zerolog.NewTestWriter(t)), port)
	require.NoError(t, s.Start())
	defer s.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))

	t.Run("Port in use", func(t *testing.T) {
		other := NewServer(&MockGateway{}, prometheus.NewRegistry(), zerolog.Nop(), port)
		err := other.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind")
	})

	require.NoError(t, s.Stop())
}
