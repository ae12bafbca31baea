package verification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg/cache"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestRedisTransport_RoundTrip runs a fake registry on the request channel and verifies one identity over real Redis.
func TestRedisTransport_RoundTrip(t *testing.T) {
	testutil.RequireDocker(t)
	addr, terminate, err := testutil.StartRedisForTests()
	require.NoError(t, err, "failed to start redis")
	t.Cleanup(terminate)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, closer, err := cache.New(ctx, cache.Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(closer)

	registry := client.Subscribe(ctx, "reniec_operation")
	_, err = registry.Receive(ctx)
	require.NoError(t, err)
	defer registry.Close()
	go func() {
		for msg := range registry.Channel() {
			var req request
			if json.Unmarshal([]byte(msg.Payload), &req) != nil {
				continue
			}
			reply, _ := json.Marshal(map[string]any{
				"ok": true, "correlationId": req.CorrelationID,
				"data": map[string]any{"valid": req.Dni == "45678912", "nombres": "MARÍA ELENA"},
			})
			client.Publish(ctx, req.ReplyTo, reply)
		}
	}()

	rpc := NewRPCClient(RPCClientConfig{
		Logger:    zap.NewNop(),
		Transport: NewRedisTransport(client, "reniec_operation"),
		Timeout:   5 * time.Second,
	})

	res, err := rpc.Verify(ctx, "45678912")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "MARÍA ELENA", res.Nombres)

	res, err = rpc.Verify(ctx, "11111111")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	// private reply channels are gone once calls return
	assert.Eventually(t, func() bool {
		channels, err := client.PubSubChannels(ctx, "reniec.reply.*").Result()
		return err == nil && len(channels) == 0
	}, 5*time.Second, 50*time.Millisecond)
}
