package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/segmentio/kafka-go"
)

// MessageWriter kafka.Writer 的最小子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter 同步写入、全部副本确认
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaHandler 事件写入 Kafka。订单事件以账户为 key，其余以标的为 key，保证同 key 有序
type KafkaHandler struct {
	writer MessageWriter
	codec  event.Codec
}

func NewKafkaHandler(writer MessageWriter, codec event.Codec) *KafkaHandler {
	return &KafkaHandler{writer: writer, codec: codec}
}

func (h *KafkaHandler) Handle(ctx context.Context, ev event.Event) error {
	data, err := h.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(ev)),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close 关闭底层 writer
func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}

func messageKey(ev event.Event) string {
	switch d := ev.Data.(type) {
	case model.Order:
		return d.AccountID
	case model.Trade:
		return d.InstrumentID
	case model.BookSnapshot:
		return d.InstrumentID
	default:
		return string(ev.Type)
	}
}
