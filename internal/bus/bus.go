package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// Topic prefixes. Each logical topic (spec §4.D: commands, tasks,
// events) is a JetStream stream whose subjects are suffixed by the
// partition key, so NATS's own per-subject ordering delivers the
// "all messages for one execution land on one partition" guarantee
// without hand-rolled partitioning.
const (
	subjectPrefixCommands = "chaingraph.commands"
	subjectPrefixTasks    = "chaingraph.tasks"
	subjectPrefixEvents   = "chaingraph.events"

	streamCommands = "chaingraph-commands"
	streamTasks    = "chaingraph-tasks"
	streamEvents   = "chaingraph-events"
)

// commandSubject returns the subject a CREATE command (keyed by flowId,
// since no execution id exists yet) or any other command (keyed by
// executionId) is published/subscribed on.
func commandSubject(partitionKey string) string {
	return fmt.Sprintf("%s.%s", subjectPrefixCommands, partitionKey)
}

func taskSubject(executionID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefixTasks, executionID)
}

func eventSubject(executionID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefixEvents, executionID)
}

// Publisher publishes commands, tasks, and events onto their respective
// JetStream streams. Grounded on the teacher's nats.Publisher (same
// GobMarshaler wire envelope for the Watermill message itself), but the
// message.Payload it carries is our own JSON-with-json.Number encoding
// (codec.go) rather than a second layer of Gob over the domain payload,
// and the three hardcoded duragraph streams are replaced by the
// commands/tasks/events scheme.
type Publisher struct {
	pub *wmnats.Publisher
}

// NewPublisher connects to NATS, ensures the three JetStream streams
// exist, and returns a Publisher.
func NewPublisher(natsURL string, logger watermill.LoggerAdapter) (*Publisher, error) {
	nc, err := natsgo.Connect(natsURL)
	if err != nil {
		return nil, cgerrors.BusFatal("connect", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, cgerrors.BusFatal("jetstream", err)
	}
	if err := ensureStreams(js); err != nil {
		return nil, cgerrors.BusFatal("ensure-streams", err)
	}

	pub, err := wmnats.NewPublisher(
		wmnats.PublisherConfig{URL: natsURL, Marshaler: wmnats.GobMarshaler{}},
		logger,
	)
	if err != nil {
		return nil, cgerrors.BusFatal("new-publisher", err)
	}
	return &Publisher{pub: pub}, nil
}

func ensureStreams(js natsgo.JetStreamContext) error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{streamCommands, []string{subjectPrefixCommands + ".>"}},
		{streamTasks, []string{subjectPrefixTasks + ".>"}},
		{streamEvents, []string{subjectPrefixEvents + ".>"}},
	}
	for _, s := range streams {
		if _, err := js.StreamInfo(s.name); err == nil {
			continue
		}
		if _, err := js.AddStream(&natsgo.StreamConfig{
			Name:     s.name,
			Subjects: s.subjects,
			Storage:  natsgo.FileStorage,
			Replicas: 1,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(subject string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return cgerrors.BusFatal("encode", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := p.pub.Publish(subject, msg); err != nil {
		return cgerrors.BusTransient("publish", err)
	}
	return nil
}

// PublishCommand publishes a command envelope, partitioned by
// executionId (or flowId for a CREATE with no execution id yet).
func (p *Publisher) PublishCommand(ctx context.Context, env CommandEnvelope) error {
	key := env.ExecutionID
	if key == "" {
		key = env.Payload.FlowID
	}
	env.SchemaVersion = SchemaVersion
	return p.publish(commandSubject(key), env)
}

// PublishTask publishes a task envelope, partitioned by executionId.
func (p *Publisher) PublishTask(ctx context.Context, env TaskEnvelope) error {
	env.SchemaVersion = SchemaVersion
	return p.publish(taskSubject(env.ExecutionID), env)
}

// PublishEvent publishes an event envelope, partitioned by executionId.
func (p *Publisher) PublishEvent(ctx context.Context, env EventEnvelope) error {
	env.SchemaVersion = SchemaVersion
	return p.publish(eventSubject(env.ExecutionID), env)
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

// Subscriber wraps a Watermill NATS JetStream subscriber bound to a
// consumer group (spec §4.D: "consumed by a worker group with
// cooperative rebalancing").
type Subscriber struct {
	sub *wmnats.Subscriber
}

// NewSubscriber creates a durable, queue-grouped subscriber.
func NewSubscriber(natsURL, queueGroup string, logger watermill.LoggerAdapter) (*Subscriber, error) {
	sub, err := wmnats.NewSubscriber(
		wmnats.SubscriberConfig{
			URL:              natsURL,
			QueueGroupPrefix: queueGroup,
			Unmarshaler:      wmnats.GobMarshaler{},
		},
		logger,
	)
	if err != nil {
		return nil, cgerrors.BusFatal("new-subscriber", err)
	}
	return &Subscriber{sub: sub}, nil
}

// SubscribeTasks subscribes to the full task stream (all executions);
// the worker dispatches per-task by executionId internally.
func (s *Subscriber) SubscribeTasks(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := s.sub.Subscribe(ctx, subjectPrefixTasks+".>")
	if err != nil {
		return nil, cgerrors.BusTransient("subscribe-tasks", err)
	}
	return ch, nil
}

// SubscribeEvents subscribes to the full event stream; the Event Stream
// Service fans individual executions out to connected clients.
func (s *Subscriber) SubscribeEvents(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := s.sub.Subscribe(ctx, subjectPrefixEvents+".>")
	if err != nil {
		return nil, cgerrors.BusTransient("subscribe-events", err)
	}
	return ch, nil
}

// SubscribeCommandsForExecution subscribes to lifecycle commands
// (START/STOP/PAUSE/RESUME) addressed to one running execution (spec
// §4.E step 4: "bridge into the debugger handle").
func (s *Subscriber) SubscribeCommandsForExecution(ctx context.Context, executionID string) (<-chan *message.Message, error) {
	ch, err := s.sub.Subscribe(ctx, commandSubject(executionID))
	if err != nil {
		return nil, cgerrors.BusTransient("subscribe-commands", err)
	}
	return ch, nil
}

// SubscribeCreateCommands subscribes to every command subject: CREATE
// commands (partitioned by flowId) and lifecycle commands alike, so the
// control plane's ingestion side reads the whole commands stream rather
// than one execution's subject.
func (s *Subscriber) SubscribeCreateCommands(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := s.sub.Subscribe(ctx, subjectPrefixCommands+".>")
	if err != nil {
		return nil, cgerrors.BusTransient("subscribe-create-commands", err)
	}
	return ch, nil
}

// Close closes the underlying subscriber.
func (s *Subscriber) Close() error {
	return s.sub.Close()
}

// DecodeCommand decodes a command-topic message payload.
func DecodeCommand(msg *message.Message) (CommandEnvelope, error) {
	var env CommandEnvelope
	err := decode(msg.Payload, &env)
	return env, err
}

// DecodeTask decodes a task-topic message payload.
func DecodeTask(msg *message.Message) (TaskEnvelope, error) {
	var env TaskEnvelope
	err := decode(msg.Payload, &env)
	return env, err
}

// DecodeEvent decodes an event-topic message payload.
func DecodeEvent(msg *message.Message) (EventEnvelope, error) {
	var env EventEnvelope
	err := decode(msg.Payload, &env)
	return env, err
}
