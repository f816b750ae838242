package kafka

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishStampsTopic(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "trip.status_changed")

	require.NoError(t, p.Publish(context.Background(), []byte("D1"), []byte(`{"departure_id":"D1"}`)))
	require.Len(t, fw.written, 1)
	require.Equal(t, "trip.status_changed", fw.written[0].Topic)
	require.Equal(t, []byte("D1"), fw.written[0].Key)
}

func TestProducer_PublishWrapsError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("boom")}
	p := newProducerWithWriter(fw, "trip.status_changed")

	err := p.Publish(context.Background(), []byte("D1"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka publish")
}

func TestProducer_Close(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "t")
	require.NoError(t, p.Close())
	require.True(t, fw.closed)
}
