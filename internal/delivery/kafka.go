package delivery

import (
	"context"
	"encoding/json"
	"time"

	confluent "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"dm-go/internal/imtypes"
	"dm-go/internal/kafka"
	"dm-go/internal/metrics"
)

// publishTimeout 限制等待 broker 投递报告的时间，避免慢 broker 拖住写请求。
const publishTimeout = 5 * time.Second

// Envelope 是在 Kafka 投递主题上传输的消息。
type Envelope struct {
	TargetUserID uint          `json:"targetUserId"`
	Event        imtypes.Event `json:"event"`
}

// KafkaBroadcaster 把事件发布到投递主题，由持有目标连接的 chat server 实例完成推送。
// API server 不持有任何连接，使用这个实现。
type KafkaBroadcaster struct {
	producer kafka.MessageProducer
	topic    string
}

// NewKafkaBroadcaster creates a broadcaster publishing to topic.
func NewKafkaBroadcaster(producer kafka.MessageProducer, topic string) *KafkaBroadcaster {
	return &KafkaBroadcaster{producer: producer, topic: topic}
}

// Notify implements Broadcaster. 发布失败只记录日志，消息已经持久化，客户端可以重新拉取。
func (b *KafkaBroadcaster) Notify(ctx context.Context, event imtypes.Event, targetUserID uint) {
	eventType := string(event.Type)

	payload, err := json.Marshal(Envelope{TargetUserID: targetUserID, Event: event})
	if err != nil {
		jww.ERROR.Printf("错误: 无法序列化投递信封 (UserID %d): %v", targetUserID, err)
		metrics.EventsDropped.WithLabelValues(eventType, metrics.ReasonEncode).Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// 以目标用户为 key，同一用户的事件落在同一分区，保持顺序
	key := []byte(imtypes.FormatID(targetUserID))
	if err := b.producer.SendMessage(ctx, b.topic, key, payload); err != nil {
		jww.ERROR.Printf("错误: 发布 %s 事件到 %s 失败 (UserID %d): %v", eventType, b.topic, targetUserID, err)
		metrics.EventsDropped.WithLabelValues(eventType, metrics.ReasonPublish).Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

// NewRelayHandler 返回 Kafka 消费回调: 解出信封后交给本地 Broadcaster。
// 无法解析的消息返回错误，由消费循环记录日志。
func NewRelayHandler(local Broadcaster) kafka.MessageHandler {
	return func(ctx context.Context, msg *confluent.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			return errors.Wrap(err, "decode delivery envelope")
		}
		if env.TargetUserID == 0 {
			return errors.New("delivery envelope without target user")
		}
		local.Notify(ctx, env.Event, env.TargetUserID)
		return nil
	}
}
