// Package events is the audit and notification sink. Every accepted mutation
// produces exactly one event: a Log row written inside the same transaction
// as the mutation, plus an optional fanout line on the notification stream.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"pkgregistry/registry/schema"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

type Topic string

const (
	TopicAclUpdate        Topic = "acl.update"
	TopicOwnerUpdate      Topic = "owner.update"
	TopicPackageNew       Topic = "package.new"
	TopicPackageDelete    Topic = "package.delete"
	TopicPackageStatus    Topic = "package.update.status"
	TopicCollectionNew    Topic = "collection.new"
	TopicCollectionUpdate Topic = "collection.update"
	TopicBranchStart      Topic = "branch.start"
	TopicBranchComplete   Topic = "branch.complete"
)

var mutationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "registry_mutations_total",
	Help: "Accepted registry mutations by topic.",
}, []string{"topic"})

// Event is what operations hand to the sink. PackageId is nil for events
// that do not concern a single package (collection edits, branch runs).
type Event struct {
	Actor     string
	Topic     Topic
	Message   string
	PackageId *uuid.UUID
	Payload   map[string]interface{}
}

// Sink persists the audit line for an event. Implementations must write the
// Log row through the supplied transaction so that a rollback also removes
// the audit line.
type Sink interface {
	Emit(txn *gorm.DB, event Event) error
}

// LogSink writes Log rows and publishes a JSON line per event on the
// notification stream for downstream fanout (message bus, email).
type LogSink struct {
	notifier *slog.Logger
}

func NewLogSink(stream io.Writer) *LogSink {
	return &LogSink{notifier: slog.New(slog.NewJSONHandler(stream, nil))}
}

func (s *LogSink) Emit(txn *gorm.DB, event Event) error {
	entry := schema.Log{
		Id:        uuid.New(),
		Actor:     event.Actor,
		PackageId: event.PackageId,
		Topic:     string(event.Topic),
		Message:   event.Message,
		CreatedAt: time.Now().UTC(),
	}

	result := txn.Create(&entry)
	if result.Error != nil {
		slog.Error("sql error writing audit log", "topic", event.Topic, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		// Fanout is best effort, the Log row is the durable record.
		slog.Error("error serializing event payload", "topic", event.Topic, "error", err)
		payload = []byte("{}")
	}

	s.notifier.Info(event.Message,
		"actor", event.Actor,
		"topic", event.Topic,
		"payload", string(payload),
	)

	mutationCounter.WithLabelValues(string(event.Topic)).Inc()

	return nil
}

// Recorder collects events in memory for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(txn *gorm.DB, event Event) error {
	entry := schema.Log{
		Id:        uuid.New(),
		Actor:     event.Actor,
		PackageId: event.PackageId,
		Topic:     string(event.Topic),
		Message:   event.Message,
		CreatedAt: time.Now().UTC(),
	}
	if result := txn.Create(&entry); result.Error != nil {
		return fmt.Errorf("error writing audit log: %w", result.Error)
	}

	r.Events = append(r.Events, event)
	return nil
}

func (r *Recorder) ByTopic(topic Topic) []Event {
	var matched []Event
	for _, event := range r.Events {
		if event.Topic == topic {
			matched = append(matched, event)
		}
	}
	return matched
}
