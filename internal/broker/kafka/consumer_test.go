package kafka

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	fetched   int
	committed []kafka.Message
	closed    bool
}

var errNoMore = errors.New("no more messages")

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.fetched >= len(r.msgs) {
		return kafka.Message{}, errNoMore
	}
	m := r.msgs[r.fetched]
	r.fetched++
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumer_CommitsAfterHandle(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("D1"), Value: []byte(`{"departure_id":"D1"}`)},
		{Key: []byte("D2"), Value: []byte(`{"departure_id":"D2"}`)},
	}}
	c := newConsumerWithReader(r)

	var handled [][]byte
	err := c.Consume(context.Background(), func(_ context.Context, key, value []byte) error {
		handled = append(handled, key)
		return nil
	})
	require.ErrorIs(t, errors.Cause(err), errNoMore)
	require.Len(t, handled, 2)
	require.Len(t, r.committed, 2)
}

func TestConsumer_NoCommitOnHandlerError(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Key: []byte("D1")}}}
	c := newConsumerWithReader(r)

	err := c.Consume(context.Background(), func(_ context.Context, key, value []byte) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Empty(t, r.committed)
}

func TestConsumer_Close(t *testing.T) {
	r := &fakeReader{}
	c := newConsumerWithReader(r)
	require.NoError(t, c.Close())
	require.True(t, r.closed)
}
