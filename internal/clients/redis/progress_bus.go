package redis

import (
	"context"
	"encoding/json"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// ProgressUpdate is the fan-out payload published once per parse stage
// transition, so interested processes can follow a parse without polling.
type ProgressUpdate struct {
	MaterialID string   `json:"materialId"`
	Stage      string   `json:"stage"`
	Fraction   *float64 `json:"fraction,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ProgressBus broadcasts parse progress over a Redis pub/sub channel.
type ProgressBus struct {
	log     *logger.Logger
	client  *goredis.Client
	channel string
}

// NewProgressBus connects to Redis using REDIS_ADDR. It returns (nil, nil)
// when REDIS_ADDR is unset: progress fan-out is optional and the ledger
// treats a nil bus as disabled.
func NewProgressBus(ctx context.Context, log *logger.Logger) (*ProgressBus, error) {
	addr := utils.GetEnv("REDIS_ADDR", "", log)
	if addr == "" {
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: utils.GetEnv("REDIS_PASSWORD", "", nil),
		DB:       utils.GetEnvAsInt("REDIS_DB", 0, log),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &ProgressBus{
		log:     log.With("client", "ProgressBus"),
		client:  client,
		channel: utils.GetEnv("PARSE_PROGRESS_CHANNEL", "parse_progress", log),
	}, nil
}

func (b *ProgressBus) Close() error { return b.client.Close() }

func (b *ProgressBus) Publish(ctx context.Context, update ProgressUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		b.log.Warn("progress update encode failed", "material_id", update.MaterialID, "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("progress publish failed", "material_id", update.MaterialID, "error", err)
	}
}

// Subscribe returns a channel of decoded updates plus a cancel func that
// tears the subscription down. Undecodable messages are dropped.
func (b *ProgressBus) Subscribe(ctx context.Context) (<-chan ProgressUpdate, func()) {
	sub := b.client.Subscribe(ctx, b.channel)
	out := make(chan ProgressUpdate, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update ProgressUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					b.log.Warn("progress update decode failed", "error", err)
					continue
				}
				select {
				case out <- update:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel
}
