package verification

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes requests on a shared channel and receives replies on private pub/sub channels.
type RedisTransport struct {
	client         *redis.Client
	requestChannel string
}

func NewRedisTransport(client *redis.Client, requestChannel string) *RedisTransport {
	return &RedisTransport{client: client, requestChannel: requestChannel}
}

func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.requestChannel, payload).Err()
}

// Listen subscribes to destination and waits for the subscription to be confirmed,
// so a reply published right after cannot be missed.
func (t *RedisTransport) Listen(ctx context.Context, destination string) (ReplyListener, error) {
	sub := t.client.Subscribe(ctx, destination)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	l := &redisListener{
		sub:  sub,
		out:  make(chan []byte, 1),
		done: make(chan struct{}),
	}
	go l.forward()
	return l, nil
}

type redisListener struct {
	sub  *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *redisListener) forward() {
	defer close(l.out)
	for msg := range l.sub.Channel() {
		select {
		case l.out <- []byte(msg.Payload):
		case <-l.done:
			return
		}
	}
}

func (l *redisListener) Messages() <-chan []byte {
	return l.out
}

// Close unsubscribes and releases the private channel. Safe to call more than once.
func (l *redisListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.sub.Close()
	})
	return err
}
