package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestServer(t *testing.T) []option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return []option.ClientOption{option.WithGRPCConn(conn)}
}

// TestPublisherPublishesJSON verifies payloads are JSON encoded with trace context attached.
func TestPublisherPublishesJSON(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	ctx := context.Background()
	opts := newTestServer(t)

	client, err := pubsub.NewClient(ctx, "proj", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	topic, err := client.CreateTopic(ctx, "connections")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	spanCtx, span := tp.Tracer("test").Start(ctx, "publish")
	id, err := pub.Publish(spanCtx, "connections", map[string]string{"status": "online"})
	span.End()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	recvCtx, cancel := context.WithCancel(ctx)
	var got *pubsub.Message
	err = sub.Receive(recvCtx, func(_ context.Context, m *pubsub.Message) {
		m.Ack()
		got = m
		cancel()
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	var body map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &body))
	require.Equal(t, "online", body["status"])
	require.Contains(t, got.Attributes, "traceparent")
}

// TestDialRejectsMissingTopic ensures Dial fails when the topic does not exist.
func TestDialRejectsMissingTopic(t *testing.T) {
	opts := newTestServer(t)
	_, err := Dial(context.Background(), "proj", "missing", opts...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

// TestDialRequiresIdentifiers ensures empty identifiers are rejected up front.
func TestDialRequiresIdentifiers(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "", "topic")
	require.Error(t, err)
}

// TestPublisherUnconfigured ensures a zero Publisher reports an error.
func TestPublisherUnconfigured(t *testing.T) {
	t.Parallel()
	_, err := (&Publisher{}).Publish(context.Background(), "t", "x")
	require.Error(t, err)
}
