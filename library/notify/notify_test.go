package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

type fakeChannel struct {
	declared   []string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	publishErr error
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisherDeclaresDurableQueue(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newPublisher(ch, WithQueue("lending"), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, []string{"lending"}, ch.declared)
	assert.True(t, ch.durable)
}

func TestPublisherDeclareFailure(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newPublisher(ch, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultQueue)
}

func TestPublisherPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, WithLogger(quietLogger()))
	require.NoError(t, err)

	due := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	err = p.Publish(context.Background(), library.Event{
		Type:          library.EventBookIssued,
		BookID:        "b1",
		UserID:        "u1",
		TransactionID: "t1",
		DueDate:       &due,
		OccurredAt:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, DefaultQueue, ch.keys[0])
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "book.issued", msg.Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "book.issued", decoded["type"])
	assert.Equal(t, "b1", decoded["book_id"])
	assert.Equal(t, "t1", decoded["transaction_id"])
	assert.NotContains(t, decoded, "fine")
}

func TestPublisherReturnsPublishError(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, WithLogger(quietLogger()))
	require.NoError(t, err)

	ch.publishErr = amqp.ErrClosed
	err = p.Publish(context.Background(), library.Event{Type: library.EventBookReturned})
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestPublisherCloseWithoutConnection(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Publish(context.Background(), library.Event{Type: library.EventBookAdded}))
	assert.NoError(t, LogNotifier{Logger: quietLogger()}.Publish(context.Background(), library.Event{}))
}
