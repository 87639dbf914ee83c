package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lifeline/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// LogSink writes each intent as a structured log line.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, intent types.NotificationIntent) error {
	s.logger.WithFields(logrus.Fields{
		"user_id":  intent.RecipientUserID,
		"category": intent.Category,
	}).Info(intent.Message)
	return nil
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
}

// StoreSink persists intents into the user's notification inbox.
type StoreSink struct {
	repo NotificationWriter
}

func NewStoreSink(repo NotificationWriter) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, intent types.NotificationIntent) error {
	return s.repo.CreateNotification(ctx, &types.Notification{
		UserID:    intent.RecipientUserID,
		Message:   intent.Message,
		Category:  intent.Category,
		CreatedAt: time.Now(),
	})
}

// envelope is the payload published to external brokers.
type envelope struct {
	types.NotificationIntent
	SentAt time.Time `json:"sentAt"`
}

func encode(intent types.NotificationIntent) ([]byte, error) {
	data, err := json.Marshal(envelope{NotificationIntent: intent, SentAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return data, nil
}

type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSSink struct {
	client   SQSAPI
	queueURL string
}

func NewSQSSink(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) Name() string { return "sqs" }

func (s *SQSSink) Deliver(ctx context.Context, intent types.NotificationIntent) error {
	body, err := encode(intent)
	if err != nil {
		return err
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send notification to sqs: %w", err)
	}
	return nil
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink keys messages by recipient so one user's notifications stay on
// one partition.
type KafkaSink struct {
	writer KafkaWriter
}

func NewKafkaSink(writer KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, intent types.NotificationIntent) error {
	value, err := encode(intent)
	if err != nil {
		return err
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(intent.RecipientUserID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write notification to kafka: %w", err)
	}
	return nil
}

type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes to a per-user channel, prefix + user id.
type RedisSink struct {
	client RedisPublisher
	prefix string
}

func NewRedisSink(client RedisPublisher, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(userID string) string {
	return s.prefix + userID
}

func (s *RedisSink) Deliver(ctx context.Context, intent types.NotificationIntent) error {
	payload, err := encode(intent)
	if err != nil {
		return err
	}

	if err := s.client.Publish(ctx, s.Channel(intent.RecipientUserID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification to redis: %w", err)
	}
	return nil
}
