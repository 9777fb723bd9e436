package telemetry

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	DefaultChannelPrefix = "teleop.telemetry"
	DefaultQueueSize     = 64
)

// RedisClient is the part of *redis.Client used by the Publisher.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type update struct {
	peer     string
	snapshot Snapshot
}

// Publisher fans telemetry snapshots out to Redis subscribers. Updates are
// queued and dropped when the queue is full so the caller never blocks on
// the network.
type Publisher struct {
	client RedisClient
	prefix string

	queue chan update
}

func NewPublisher(client RedisClient, prefix string, size int) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Publisher{
		client: client,
		prefix: prefix,
		queue:  make(chan update, size),
	}
}

func (p *Publisher) Channel(peer string) string {
	return fmt.Sprintf("%s.%s", p.prefix, peer)
}

// OnTelemetry enqueues a snapshot for publishing.
func (p *Publisher) OnTelemetry(peer string, s Snapshot) bool {
	select {
	case p.queue <- update{peer: peer, snapshot: s}:
		return true
	default:
		logrus.WithField("peer", peer).Warn("Telemetry publish queue full, dropping snapshot")
		return false
	}
}

// Run publishes queued snapshots until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case u := <-p.queue:
			if err := p.publish(ctx, u); err != nil {
				logrus.WithError(err).Error("Failed to publish telemetry")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, u update) error {
	payload, err := msgpack.Marshal(&u.snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := p.client.Publish(ctx, p.Channel(u.peer), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.Channel(u.peer), err)
	}

	return nil
}
