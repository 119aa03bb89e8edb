package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultQueueSize = 256

// RedisNotifier publishes events on a Redis pub/sub channel from a
// background goroutine. Notify only enqueues; a full queue drops the event.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
	timeout time.Duration

	queue chan Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewRedisNotifier(client *redis.Client, channel string, logger zerolog.Logger) *RedisNotifier {
	n := &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
		timeout: 2 * time.Second,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *RedisNotifier) Notify(_ context.Context, evt Event) {
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.queue <- evt:
	default:
		n.logger.Warn().
			Str("event", string(evt.Type)).
			Str("booking_id", evt.BookingID.String()).
			Msg("notification queue full, dropping event")
	}
}

func (n *RedisNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case evt := <-n.queue:
			n.publish(evt)
		case <-n.done:
			// drain what was accepted before Close
			for {
				select {
				case evt := <-n.queue:
					n.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (n *RedisNotifier) publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error().Err(err).Str("event", string(evt.Type)).Msg("failed to marshal booking event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		n.logger.Error().Err(err).
			Str("event", string(evt.Type)).
			Str("booking_id", evt.BookingID.String()).
			Msg("failed to publish booking event")
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (n *RedisNotifier) Close() {
	n.once.Do(func() { close(n.done) })
	n.wg.Wait()
}
