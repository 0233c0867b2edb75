package initial

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/config"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/internal/modules/ai/infrastructure/mq/kafka"
	"LeadPilot/pkg/zlog"
)

// IngestQueue 异步入库队列的两端
type IngestQueue struct {
	Publisher mq.Publisher
	Consumer  mq.Consumer
	Topic     string
}

func (q *IngestQueue) Close() {
	if q == nil {
		return
	}
	if q.Consumer != nil {
		_ = q.Consumer.Close()
	}
	if q.Publisher != nil {
		_ = q.Publisher.Close()
	}
}

// NewIngestQueue Kafka 未启用时使用进程内队列，发布与消费共享同一个 channel
func NewIngestQueue(conf config.KafkaConfig) (*IngestQueue, error) {
	topic := conf.IngestTopic
	if !conf.Enabled {
		zlog.Info("kafka disabled, using in-process ingest queue")
		q := mq.NewInProc(256)
		return &IngestQueue{Publisher: q, Consumer: q, Topic: topic}, nil
	}

	err := kafka.EnsureTopic(conf.Brokers, conf.ClientID, kafka.TopicSpec{
		Name:              topic,
		Partitions:        conf.Partitions,
		ReplicationFactor: conf.Replication,
		Retention:         7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: conf.Brokers, ClientID: conf.ClientID})
	if err != nil {
		return nil, err
	}
	cons, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  conf.Brokers,
		GroupID:  conf.ConsumerGroupID,
		Topics:   []string{topic},
		ClientID: conf.ClientID,
	})
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	zlog.Info("kafka ingest queue ready", zap.Strings("brokers", conf.Brokers), zap.String("topic", topic))
	return &IngestQueue{Publisher: pub, Consumer: cons, Topic: topic}, nil
}
