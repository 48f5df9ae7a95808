package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/accountlink/internal/events"
)

// TestLogSinkWritesFields verifies each event is logged with its account and kind.
func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{AccountID: id, TS: time.Now(), Kind: events.KindSummary, Status: "online", Progress: 0.25, Message: "Uploading 2 files…"},
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, id.String(), fields["account_id"])
	require.Equal(t, "SUMMARY", fields["kind"])
	require.Equal(t, 0.25, fields["progress"])
	require.Equal(t, "Uploading 2 files…", fields["message"])
}
