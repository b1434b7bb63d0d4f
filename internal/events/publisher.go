package events

import (
	"context"
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

// Event types published to the activity topic.
const (
	TypeAnnotationSaved    = "annotation.saved"
	TypeAnnotationCleared  = "annotation.cleared"
	TypeExportCompleted    = "export.completed"
	TypeDetectionCompleted = "detection.completed"
	TypeTrainingStarted    = "training.started"
	TypeTrainingFinished   = "training.finished"
)

// Event is the envelope written to kafka.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	ProjectID string         `json:"project_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Publisher emits activity events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(projectID, eventType string, payload map[string]any)
	Close() error
}

// Nop discards all events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(string, string, map[string]any) {}
func (Nop) Close() error                           { return nil }

// KafkaPublisher writes events to a kafka topic from a background
// goroutine fed by a buffered channel; a full buffer drops events rather
// than blocking annotation writes.
type KafkaPublisher struct {
	writer *kafka.Writer
	bucket chan Event
	done   chan struct{}
	once   sync.Once
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		bucket: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) run() {
	for ev := range p.bucket {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[WARN] events: marshal: %v", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.ProjectID),
			Value: data,
		})
		cancel()
		if err != nil {
			log.Printf("[WARN] events: write %s: %v", ev.Type, err)
		}
	}
	close(p.done)
}

func (p *KafkaPublisher) Publish(projectID, eventType string, payload map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Time:      time.Now().UTC(),
		ProjectID: projectID,
		Payload:   payload,
	}
	select {
	case p.bucket <- ev:
	default:
		log.Printf("[WARN] events: buffer full, dropping %s", eventType)
	}
}

func (p *KafkaPublisher) Close() error {
	p.once.Do(func() {
		close(p.bucket)
		<-p.done
	})
	return p.writer.Close()
}

// New returns a kafka publisher when brokers are configured, Nop otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}
