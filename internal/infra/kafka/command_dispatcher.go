package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
)

var _ adapter.CommandDispatcher = (*CommandDispatcher)(nil)

// CommandDispatcher publishes rendered delivery commands. Deliver and expire
// commands go to separate topics, keyed by item id.
type CommandDispatcher struct {
	producer    sarama.SyncProducer
	log         *zerolog.Logger
	topic       string
	expireTopic string
	timeout     time.Duration
}

func NewCommandDispatcher(cfg config.KafkaConfig, logger *zerolog.Logger) (*CommandDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is empty")
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("parse kafka version: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, createSaramaConfig(version, cfg.SendTimeout))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newCommandDispatcher(producer, cfg, logger), nil
}

func newCommandDispatcher(producer sarama.SyncProducer, cfg config.KafkaConfig, logger *zerolog.Logger) *CommandDispatcher {
	l := logger.With().Str("component", "CommandDispatcher").Logger()
	expireTopic := cfg.ExpireTopic
	if expireTopic == "" {
		expireTopic = cfg.Topic
	}
	return &CommandDispatcher{
		producer:    producer,
		log:         &l,
		topic:       cfg.Topic,
		expireTopic: expireTopic,
		timeout:     cfg.SendTimeout,
	}
}

func (d *CommandDispatcher) Dispatch(ctx context.Context, cmd adapter.DeliveryCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode delivery command: %w", err)
	}

	topic := d.topic
	if cmd.Kind == adapter.CommandExpire {
		topic = d.expireTopic
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(cmd.ItemID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("Command-Kind"), Value: []byte(cmd.Kind)},
			{Key: []byte("Trace-Id"), Value: []byte(logging.TraceID(ctx))},
		},
	}

	partition, offset, err := d.producer.SendMessage(msg)
	metrics.IncCommandDispatch(string(cmd.Kind), err == nil)
	if err != nil {
		logging.With(ctx, d.log).Error().Err(err).
			Str("topic", topic).Str("item_id", cmd.ItemID).
			Msg("failed to publish delivery command")
		return fmt.Errorf("publish %s command: %w", cmd.Kind, err)
	}
	d.log.Debug().Str("topic", topic).Int32("partition", partition).Int64("offset", offset).
		Str("item_id", cmd.ItemID).Msg("delivery command published")
	return nil
}

func (d *CommandDispatcher) Close() error {
	d.log.Info().Msg("closing Kafka producer")
	err := d.producer.Close()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to close Kafka producer")
	}
	return err
}

func createSaramaConfig(ver sarama.KafkaVersion, timeout time.Duration) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = ver
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	if timeout > 0 {
		config.Producer.Timeout = timeout
	}
	return config
}
