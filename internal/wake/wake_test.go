package wake_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/wake"
)

func received(n wake.Notifier) bool {
	select {
	case <-n.C():
		return true
	default:
		return false
	}
}

func TestLocalCoalescesSignals(t *testing.T) {
	n := wake.NewLocal()
	n.Notify(context.Background())
	n.Notify(context.Background())

	assert.True(t, received(n))
	assert.False(t, received(n), "second signal should have collapsed into the first")
}

func TestDialFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := wake.Dial(ctx, config.Redis{Addr: addr})
	require.Error(t, err)
}

func TestRedisRelaysAcrossNotifiers(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	sender := wake.NewRedis(newClient(), "test:wake", logging.NewNop())
	receiver := wake.NewRedis(newClient(), "test:wake", logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- receiver.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.Eventually(t, func() bool {
		sender.Notify(context.Background())
		return received(receiver)
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, received(sender), "sender wakes itself locally")
}

func TestRedisIgnoresOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := wake.NewRedis(client, "", logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("rivalcast:*")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	n.Notify(context.Background())
	require.True(t, received(n))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, received(n), "own publish must not wake twice")

	cancel()
	require.NoError(t, <-done)
}
