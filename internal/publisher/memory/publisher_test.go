package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPublisherStoresMessages verifies publishes are recorded in order and copied on read.
func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic)
}

// TestPublisherClose ensures publishes fail once closed.
func TestPublisherClose(t *testing.T) {
	t.Parallel()

	pub := New()
	require.NoError(t, pub.Close())
	_, err := pub.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, ErrClosed)
}
