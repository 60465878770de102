package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// ErrDisabled 未配置 broker
var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers []string
}

// NewClient brokersCSV 形如 "k1:9092,k2:9092"，空串表示不启用
func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return c != nil && len(c.Brokers) > 0
}

// NewWriter 按 key 哈希分区，同一订单的事件保持顺序
func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// MessageWriter kafka.Writer 的最小子集，测试中可替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageReader kafka.Reader 的最小子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func PublishJSON(ctx context.Context, writer MessageWriter, key string, payload any) error {
	if writer == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return PublishRaw(ctx, writer, key, data)
}

// PublishRaw 发送已序列化的消息体
func PublishRaw(ctx context.Context, writer MessageWriter, key string, value []byte) error {
	if writer == nil {
		return ErrDisabled
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()}
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(&msg))
	return writer.WriteMessages(ctx, msg)
}
