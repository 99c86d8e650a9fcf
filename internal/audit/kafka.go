// Package audit exports chat activity to Kafka for analytics and archiving.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"time"

	"github.com/IBM/sarama"
)

// Record is the value written for every exported event.
type Record struct {
	Type       models.EventType `json:"type"`
	RoomID     string           `json:"roomId"`
	Event      models.Event     `json:"event"`
	RecordedAt time.Time        `json:"recordedAt"`
}

// NewSaramaConfig builds a producer config. SASL/PLAIN is enabled when
// credentials are given.
func NewSaramaConfig(username, password string) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	// Same key, same partition: a room's events stay in order.
	config.Producer.Partitioner = sarama.NewHashPartitioner

	if username != "" && password != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		config.Net.SASL.User = username
		config.Net.SASL.Password = password
		config.Net.SASL.Handshake = true
	}
	return config
}

// Sink copies messages and room changes from the hub to a Kafka topic,
// keyed by room id.
type Sink struct {
	producer sarama.SyncProducer
	hub      *chathub.ManagerService
	topic    string
	now      func() time.Time
}

func NewProducer(brokers []string, config *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, config)
}

func NewSink(producer sarama.SyncProducer, hub *chathub.ManagerService, topic string) *Sink {
	return &Sink{producer: producer, hub: hub, topic: topic, now: time.Now}
}

// Run exports events until ctx is cancelled or the hub shuts down.
func (s *Sink) Run(ctx context.Context) error {
	sub, err := s.hub.SubscribeFirehose("audit")
	if err != nil {
		return err
	}
	defer s.hub.Unsubscribe(sub)
	log.Printf("INFO: [Audit] Exporting chat events to topic %s.", s.topic)
	s.consume(ctx, sub)
	return nil
}

func (s *Sink) consume(ctx context.Context, sub *chathub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if n := sub.TakeDropped(); n > 0 {
				log.Printf("WARN: [Audit] %d events were not exported: consumer too slow.", n)
			}
			if err := s.Export(ev); err != nil {
				log.Printf("ERROR: [Audit] Failed to export %s for room %s: %v", ev.Type, ev.RoomID, err)
			}
		}
	}
}

// Export writes one event. Previews are skipped since each mirrors a NEW_MESSAGE.
func (s *Sink) Export(ev models.Event) error {
	if ev.Type != models.EventNewMessage && ev.Type != models.EventRoomUpdated {
		return nil
	}

	value, err := json.Marshal(Record{Type: ev.Type, RoomID: ev.RoomID, Event: ev, RecordedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.RoomID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	log.Printf("INFO: [Audit] %s for room %s sent to partition %d at offset %d", ev.Type, ev.RoomID, partition, offset)
	return nil
}

func (s *Sink) Close() error {
	return s.producer.Close()
}
