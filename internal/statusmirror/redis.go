package statusmirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// RedisConfig configures the shared-bus driver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the durable record and the pub/sub channel.
	KeyPrefix string
}

type redisMirror struct {
	client *redis.Client
	log    logx.Logger

	stateKey string
	channel  string
}

// NewRedis returns a mirror backed by a shared Redis instance: the durable
// record lives under <prefix>:conn_state and change notifications fan out on
// the <prefix>:conn_state:events pub/sub channel.
func NewRedis(cfg RedisConfig, log logx.Logger) (Mirror, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("statusmirror: redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "garden:market"
	}
	return &redisMirror{
		client:   client,
		log:      log,
		stateKey: prefix + ":conn_state",
		channel:  prefix + ":conn_state:events",
	}, nil
}

func (m *redisMirror) Publish(ctx context.Context, state market.ConnState) error {
	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.stateKey, string(state), 0)
	pipe.Set(ctx, m.stateKey+":updated_at", time.Now().UTC().Format(time.RFC3339), 0)
	pipe.Publish(ctx, m.channel, string(state))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("statusmirror: publish %s: %w", state, err)
	}
	return nil
}

func (m *redisMirror) Current(ctx context.Context) (market.ConnState, error) {
	v, err := m.client.Get(ctx, m.stateKey).Result()
	if err == redis.Nil {
		return market.StateDisconnected, nil
	}
	if err != nil {
		return market.StateDisconnected, err
	}
	return market.ConnState(v), nil
}

func (m *redisMirror) Subscribe(ctx context.Context, buffer int) (<-chan market.ConnState, func(), error) {
	if buffer <= 0 {
		buffer = 4
	}

	// Open the pub/sub subscription before reading the current value so no
	// transition published in between can be missed; the observer may see
	// the same state twice, which is harmless.
	sub := m.client.Subscribe(ctx, m.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("statusmirror: subscribe: %w", err)
	}

	current, err := m.Current(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan market.ConnState, buffer)
	out <- current

	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- market.ConnState(msg.Payload):
				default:
					m.log.Debug("state update dropped (subscriber slow)")
				}
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, unsub, nil
}

func (m *redisMirror) Close() error {
	return m.client.Close()
}
