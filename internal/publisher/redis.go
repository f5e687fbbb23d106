package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/exchange/emulator/internal/event"
	"github.com/redis/go-redis/v9"
)

const privateAccountEventChannelTemplate = "private:account:{accountId}:events"

// RedisConfig Redis 出口配置
type RedisConfig struct {
	// Stream 全量事件流
	Stream string
	// MaxLen 流长度上限（近似裁剪），0 不裁剪
	MaxLen int64
	// PrivateChannel 账户私有频道模板，含 {accountId}
	PrivateChannel string
}

// RedisHandler 事件写入 Redis Stream，订单/成交事件另发布到相关账户的私有频道
type RedisHandler struct {
	client redis.Cmdable
	codec  event.Codec
	cfg    RedisConfig
}

func NewRedisHandler(client redis.Cmdable, codec event.Codec, cfg RedisConfig) *RedisHandler {
	if cfg.Stream == "" {
		cfg.Stream = "emulator:events"
	}
	if cfg.PrivateChannel == "" {
		cfg.PrivateChannel = privateAccountEventChannelTemplate
	}
	return &RedisHandler{client: client, codec: codec, cfg: cfg}
}

func (h *RedisHandler) Handle(ctx context.Context, ev event.Event) error {
	data, err := h.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: h.cfg.Stream,
		Values: []interface{}{"type", string(ev.Type), "data", string(data)},
	}
	if h.cfg.MaxLen > 0 {
		args.MaxLen = h.cfg.MaxLen
		args.Approx = true
	}
	if err := h.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", h.cfg.Stream, err)
	}

	for _, accountID := range ev.AccountIDs() {
		channel := h.privateChannel(accountID)
		if err := h.client.Publish(ctx, channel, data).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", channel, err)
		}
	}
	return nil
}

func (h *RedisHandler) privateChannel(accountID string) string {
	return strings.ReplaceAll(h.cfg.PrivateChannel, "{accountId}", accountID)
}
