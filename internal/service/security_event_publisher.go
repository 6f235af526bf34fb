package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
)

// SecurityEventMessage is the CloudEvents-shaped payload published for every
// security log entry.
type SecurityEventMessage struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	Data        SecurityLogData `json:"data"`
}

type SecurityLogData struct {
	UserID    *uint  `json:"user_id,omitempty"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type SecurityEventPublisher interface {
	Publish(ctx context.Context, entry *domain.SecurityLog) error
	Close() error
}

type NoopSecurityEventPublisher struct{}

func NewNoopSecurityEventPublisher() *NoopSecurityEventPublisher {
	return &NoopSecurityEventPublisher{}
}

func (NoopSecurityEventPublisher) Publish(context.Context, *domain.SecurityLog) error { return nil }

func (NoopSecurityEventPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSecurityEventPublisher streams security events keyed by user id so
// one user's events stay ordered within a partition.
type KafkaSecurityEventPublisher struct {
	writer  messageWriter
	source  string
	timeout time.Duration
}

func NewKafkaSecurityEventPublisher(brokers []string, topic, source string) *KafkaSecurityEventPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSecurityEventPublisher(writer, source)
}

func newKafkaSecurityEventPublisher(writer messageWriter, source string) *KafkaSecurityEventPublisher {
	return &KafkaSecurityEventPublisher{writer: writer, source: source, timeout: 5 * time.Second}
}

func (p *KafkaSecurityEventPublisher) Publish(ctx context.Context, entry *domain.SecurityLog) error {
	msg := SecurityEventMessage{
		ID:          uuid.NewString(),
		Source:      p.source,
		SpecVersion: "1.0",
		Type:        "auth.security." + string(entry.Event),
		Time:        entry.CreatedAt.UTC(),
		Data: SecurityLogData{
			UserID:    entry.UserID,
			Event:     string(entry.Event),
			Outcome:   entry.Outcome,
			Reason:    entry.Reason,
			IPAddress: entry.IPAddress,
			UserAgent: entry.UserAgent,
		},
	}
	key := "anonymous"
	if entry.UserID != nil {
		key = strconv.FormatUint(uint64(*entry.UserID), 10)
		msg.Subject = key
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: msg.Time}); err != nil {
		return fmt.Errorf("write security event: %w", err)
	}
	return nil
}

func (p *KafkaSecurityEventPublisher) Close() error {
	return p.writer.Close()
}
