package inbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leadID = "5f0c2a8e-4a51-4c8f-9a0c-3b1f7f1c2d10"

type fakeBroker struct {
	queue  [][]byte
	next   uint64
	getErr error

	acked    []uint64
	nacked   []uint64
	requeued []uint64
}

func (b *fakeBroker) Get(ctx context.Context) (amqp.Delivery, bool, error) {
	if b.getErr != nil {
		return amqp.Delivery{}, false, b.getErr
	}
	if len(b.queue) == 0 {
		return amqp.Delivery{}, false, nil
	}
	body := b.queue[0]
	b.queue = b.queue[1:]
	b.next++
	return amqp.Delivery{DeliveryTag: b.next, Body: body}, true, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.acked = append(b.acked, tag)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	if requeue {
		b.requeued = append(b.requeued, tag)
	} else {
		b.nacked = append(b.nacked, tag)
	}
	return nil
}

func newTestInbox(b *fakeBroker) *RabbitMQ {
	return NewRabbitMQ(b, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func message(t *testing.T, id string, kind domain.SignalKind) []byte {
	t.Helper()
	body, err := Encode(domain.Signal{ID: id, LeadID: leadID, Kind: kind})
	require.NoError(t, err)
	return body
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    domain.Signal
		wantErr bool
	}{
		{
			name: "reply",
			body: `{"signal_id":"s1","lead_id":"` + leadID + `","kind":"reply"}`,
			want: domain.Signal{ID: "s1", LeadID: leadID, Kind: domain.SignalReply},
		},
		{
			name: "bounce with timestamp",
			body: `{"signal_id":"s2","lead_id":"` + leadID + `","kind":"bounce","received_at":"2026-03-02T10:00:00Z"}`,
			want: domain.Signal{
				ID:         "s2",
				LeadID:     leadID,
				Kind:       domain.SignalBounce,
				ReceivedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			},
		},
		{name: "not json", body: `reply`, wantErr: true},
		{name: "missing signal id", body: `{"lead_id":"` + leadID + `","kind":"reply"}`, wantErr: true},
		{name: "lead id not a uuid", body: `{"signal_id":"s1","lead_id":"42","kind":"reply"}`, wantErr: true},
		{name: "unknown kind", body: `{"signal_id":"s1","lead_id":"` + leadID + `","kind":"opened"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidSignal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.LeadID, got.LeadID)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.True(t, tt.want.ReceivedAt.Equal(got.ReceivedAt))
		})
	}
}

func TestRabbitMQ_FetchUnreadSignals(t *testing.T) {
	b := &fakeBroker{queue: [][]byte{
		message(t, "s1", domain.SignalReply),
		[]byte(`garbage`),
		message(t, "s2", domain.SignalBounce),
		message(t, "s3", domain.SignalInterested),
	}}
	inbox := newTestInbox(b)

	signals, err := inbox.FetchUnreadSignals(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "s1", signals[0].ID)
	assert.Equal(t, "s2", signals[1].ID)
	assert.Equal(t, []uint64{2}, b.nacked)
	assert.Len(t, b.queue, 1)

	signals, err = inbox.FetchUnreadSignals(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SignalInterested, signals[0].Kind)
}

func TestRabbitMQ_MarkReadAndRequeue(t *testing.T) {
	b := &fakeBroker{queue: [][]byte{
		message(t, "s1", domain.SignalReply),
		message(t, "s2", domain.SignalBounce),
	}}
	inbox := newTestInbox(b)

	_, err := inbox.FetchUnreadSignals(context.Background(), 10)
	require.NoError(t, err)

	require.NoError(t, inbox.MarkRead(context.Background(), "s1"))
	require.NoError(t, inbox.Requeue(context.Background(), "s2"))
	assert.Equal(t, []uint64{1}, b.acked)
	assert.Equal(t, []uint64{2}, b.requeued)

	// Already settled
	assert.Error(t, inbox.MarkRead(context.Background(), "s1"))
	assert.Error(t, inbox.Requeue(context.Background(), "unknown"))
}

func TestRabbitMQ_DuplicateSignalIsAcked(t *testing.T) {
	b := &fakeBroker{queue: [][]byte{
		message(t, "s1", domain.SignalReply),
		message(t, "s1", domain.SignalReply),
	}}
	inbox := newTestInbox(b)

	signals, err := inbox.FetchUnreadSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
	assert.Equal(t, []uint64{2}, b.acked)
}

func TestRabbitMQ_FetchError(t *testing.T) {
	b := &fakeBroker{getErr: errors.New("channel closed")}
	inbox := newTestInbox(b)

	_, err := inbox.FetchUnreadSignals(context.Background(), 10)
	require.Error(t, err)
}
