package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "chatgate/internal/app/outbox"
)

type fakeQueue struct {
	mu     sync.Mutex
	docs   []*EventDocument
	sent   []string
	failed map[string]string
}

func (q *fakeQueue) Claim(context.Context, string) (*EventDocument, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.docs) == 0 {
		return nil, nil
	}
	doc := q.docs[0]
	q.docs = q.docs[1:]
	return doc, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id string, _ time.Time, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = map[string]string{}
	}
	q.failed[id] = msg
	return nil
}

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	out []published
	err error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.out = append(p.out, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func eventDoc(id, name string) *EventDocument {
	doc := newEventDocument(appoutbox.EventRecord{
		ID:         id,
		Name:       name,
		Payload:    []byte(`{"messageId":"m1"}`),
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Aggregate:  "c1",
		Headers:    map[string]string{"traceparent": "00-abc-def-01"},
	}, time.Now())
	return &doc
}

func TestWorker_DrainPublishesCloudEvents(t *testing.T) {
	q := &fakeQueue{docs: []*EventDocument{eventDoc("e1", "message.sent"), eventDoc("e2", "conversation.created")}}
	p := &fakeProducer{}
	w := &Worker{Store: q, Producer: p, TopicPrefix: "chat.", ID: "w1"}

	w.drain(context.Background())

	require.Len(t, p.out, 2)
	assert.Equal(t, []string{"e1", "e2"}, q.sent)
	assert.Equal(t, "chat.message.events.v1", p.out[0].topic)
	assert.Equal(t, "chat.conversation.events.v1", p.out[1].topic)
	assert.Equal(t, "c1", p.out[0].key)
	assert.Equal(t, "application/cloudevents+json", p.out[0].headers["content-type"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(p.out[0].payload, &evt))
	assert.Equal(t, "message.sent.v1", evt["type"])
	assert.Equal(t, "app://chatgate", evt["source"])
	assert.Equal(t, "e1", evt["id"])
	assert.Equal(t, "00-abc-def-01", evt["traceparent"])
	assert.Equal(t, map[string]any{"messageId": "m1"}, evt["data"])
}

func TestWorker_PublishFailureMarksFailed(t *testing.T) {
	q := &fakeQueue{docs: []*EventDocument{eventDoc("e1", "message.sent")}}
	w := &Worker{Store: q, Producer: &fakeProducer{err: errors.New("broker down")}}

	w.drain(context.Background())

	assert.Empty(t, q.sent)
	assert.Equal(t, "broker down", q.failed["e1"])
}

func TestWorker_BadPayloadMarksFailed(t *testing.T) {
	doc := eventDoc("e1", "message.sent")
	doc.Payload = []byte("not json")
	q := &fakeQueue{docs: []*EventDocument{doc}}
	p := &fakeProducer{}
	w := &Worker{Store: q, Producer: p}

	w.drain(context.Background())

	assert.Empty(t, p.out)
	assert.Contains(t, q.failed, "e1")
}

func TestWorker_NextRetryUsesBackoff(t *testing.T) {
	w := &Worker{Backoff: []time.Duration{time.Second, time.Minute}}
	start := time.Now()

	assert.WithinDuration(t, start.Add(time.Second), w.nextRetry(0), time.Second)
	assert.WithinDuration(t, start.Add(time.Minute), w.nextRetry(5), time.Second)
	assert.WithinDuration(t, start.Add(5*time.Second), (&Worker{}).nextRetry(0), time.Second)
}

func TestWorker_RunRequiresDependencies(t *testing.T) {
	assert.ErrorIs(t, (&Worker{}).Run(context.Background()), ErrWorkerNotConfigured)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &Worker{Store: &fakeQueue{}, Producer: &fakeProducer{}, Interval: time.Millisecond}
	assert.NoError(t, w.Run(ctx))
}
