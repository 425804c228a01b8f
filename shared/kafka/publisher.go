package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"corpusdedup/types"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Event types
const (
	EventStageCompleted = "stage_completed"
	EventDuplicateGroup = "duplicate_group"
)

// Event is one audit record published per stage or per duplicate group.
// Messages are keyed by run id so a run's events stay ordered within a partition.
type Event struct {
	Type      string                `json:"type"`
	RunID     string                `json:"run_id"`
	Stage     types.Stage           `json:"stage"`
	Summary   *types.StageSummary   `json:"summary,omitempty"`
	Group     *types.DuplicateGroup `json:"group,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// PublisherConfig holds Kafka producer configuration
type PublisherConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
}

// Publisher sends audit events with a synchronous producer
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, config.Topic, config.Logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *Publisher {
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

// StageCompleted publishes the summary of a committed stage
func (p *Publisher) StageCompleted(runID string, summary types.StageSummary) error {
	msg, err := p.message(Event{
		Type:      EventStageCompleted,
		RunID:     runID,
		Stage:     summary.Stage,
		Summary:   &summary,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", EventStageCompleted, err)
	}
	p.logger.Debug().Str("run_id", runID).Str("stage", string(summary.Stage)).
		Int32("partition", partition).Int64("offset", offset).Msg("stage event published")
	return nil
}

// Groups publishes one event per duplicate group in a single batch
func (p *Publisher) Groups(runID string, stage types.Stage, groups []types.DuplicateGroup) error {
	if len(groups) == 0 {
		return nil
	}
	now := time.Now().UTC()
	msgs := make([]*sarama.ProducerMessage, len(groups))
	for i := range groups {
		msg, err := p.message(Event{
			Type:      EventDuplicateGroup,
			RunID:     runID,
			Stage:     stage,
			Group:     &groups[i],
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish %d %s events: %w", len(msgs), EventDuplicateGroup, err)
	}
	p.logger.Debug().Str("run_id", runID).Str("stage", string(stage)).Int("groups", len(groups)).Msg("group events published")
	return nil
}

func (p *Publisher) message(e Event) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.RunID),
		Value: sarama.ByteEncoder(payload),
	}, nil
}

// Close gracefully shuts down the producer
func (p *Publisher) Close() error {
	p.logger.Debug().Msg("closing kafka publisher")
	return p.producer.Close()
}
