package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProc_DeliversInOrder(t *testing.T) {
	q := NewInProc(8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, k := range []string{"a", "b", "c"} {
		_, err := q.Publish(ctx, Message{Topic: "t", Key: []byte(k)})
		require.NoError(t, err)
	}

	got := make(chan string, 3)
	go func() {
		_ = q.Run(ctx, HandlerFunc(func(ctx context.Context, m Message) error {
			got <- string(m.Key)
			return nil
		}))
	}()

	var keys []string
	for i := 0; i < 3; i++ {
		select {
		case k := <-got:
			keys = append(keys, k)
		case <-ctx.Done():
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	require.NoError(t, q.Close())
}

func TestInProc_PublishAfterClose(t *testing.T) {
	q := NewInProc(1)
	require.NoError(t, q.Close())
	_, err := q.Publish(context.Background(), Message{Topic: "t"})
	assert.ErrorIs(t, err, ErrClosed)
}
