package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"

	"github.com/example/message-gateway/internal/dispatcher"
)

// Record is a normalized webhook result handed to a Sink.
type Record struct {
	Kind  dispatcher.Kind
	Key   string
	Value any
}

func recordFromResult(res *dispatcher.Result) (Record, bool) {
	switch res.Kind {
	case dispatcher.KindIncoming:
		key := res.Incoming.MessageID
		if key == "" {
			key = res.Incoming.From
		}
		return Record{Kind: res.Kind, Key: key, Value: res.Incoming}, true
	case dispatcher.KindReport:
		return Record{Kind: res.Kind, Key: res.Report.MessageID, Value: res.Report}, true
	}
	return Record{}, false
}

// Sink receives incoming messages and delivery reports for downstream processing.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// publishWithRetry retries transient sink failures for a few seconds before
// giving up so the provider can redeliver.
func publishWithRetry(ctx context.Context, sink Sink, rec Record) error {
	op := backoff.NewExponentialBackOff()
	op.InitialInterval = 100 * time.Millisecond
	op.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return sink.Publish(attemptCtx, rec)
	}, backoff.WithContext(op, ctx))
}

// KafkaWriter is the subset of *kafka.Writer used by KafkaSink.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes records to one topic per record kind.
type KafkaSink struct {
	writer KafkaWriter
	topics map[dispatcher.Kind]string
}

// NewKafkaWriter builds a writer without a fixed topic; KafkaSink sets the topic per message.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
}

func NewKafkaSink(writer KafkaWriter, incomingTopic, reportTopic string) *KafkaSink {
	return &KafkaSink{
		writer: writer,
		topics: map[dispatcher.Kind]string{
			dispatcher.KindIncoming: incomingTopic,
			dispatcher.KindReport:   reportTopic,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, rec Record) error {
	topic, ok := s.topics[rec.Kind]
	if !ok || topic == "" {
		return fmt.Errorf("no topic configured for %s records", rec.Kind)
	}
	body, err := json.Marshal(rec.Value)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal %s record: %w", rec.Kind, err))
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(rec.Key),
		Value: body,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// AMQPChannel is the subset of *amqp.Channel used by AMQPSink.
type AMQPChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes records to a topic exchange with routing keys
// webhook.incoming and webhook.report.
type AMQPSink struct {
	channel  AMQPChannel
	conn     *amqp.Connection
	exchange string
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	s := NewAMQPSink(ch, exchange)
	s.conn = conn
	return s, nil
}

func NewAMQPSink(ch AMQPChannel, exchange string) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: exchange}
}

func (s *AMQPSink) Publish(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec.Value)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal %s record: %w", rec.Kind, err))
	}
	return s.channel.Publish(s.exchange, "webhook."+string(rec.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.Key,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LogSink writes records to the log. Used when no broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "sink").Logger()}
}

func (s *LogSink) Publish(ctx context.Context, rec Record) error {
	s.logger.Info().Str("kind", string(rec.Kind)).Str("key", rec.Key).Interface("record", rec.Value).Msg("webhook record")
	return nil
}

func (s *LogSink) Close() error { return nil }
