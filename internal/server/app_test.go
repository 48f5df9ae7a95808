package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/config"
	"github.com/JakeFAU/accountlink/internal/connection"
)

func testConfig(t *testing.T, accounts ...config.AccountConfig) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Simulator.Latency = 0
	cfg.Summarizer.Throttle = -1
	cfg.Connection.KeepAliveDelay = time.Hour
	cfg.Events.MaxBatchWait = 10 * time.Millisecond
	cfg.Accounts = accounts
	return &cfg
}

// TestBuildWiresAccountsAndHistory drives one account through the API and checks history is recorded.
func TestBuildWiresAccountsAndHistory(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	cfg := testConfig(t, config.AccountConfig{ID: id.String(), Name: "Personal", Reachability: "offline"})
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	conn, ok := app.Pool().Lookup(id)
	require.True(t, ok)
	require.Equal(t, connection.StatusNoCore, conn.Status())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connections/"+id.String()+"/connect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, connection.StatusCoreAvailable, conn.Status())

	require.Eventually(t, func() bool {
		rs := conn.RichStatus()
		return rs != nil && rs.Summary != nil &&
			rs.Summary.Message == "No internet connection. Contents from cache."
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Code == http.StatusOK &&
			strings.Contains(rec.Body.String(), `accountlink_status_transitions_total{status="coreAvailable"} 1`)
	}, 2*time.Second, 10*time.Millisecond)

	app.Close(context.Background())
	require.Equal(t, connection.StatusNoCore, conn.Status())

	transitions, err := app.History().ListTransitions(context.Background(), id, 0, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(transitions), 3)
	require.Equal(t, string(connection.StatusNoCore), transitions[0].Status)
}

// TestBuildRejectsBadReachability ensures simulator setup errors surface from Build.
func TestBuildRejectsBadReachability(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.AccountConfig{ID: uuid.NewString(), Reachability: "sideways"})
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
}

// TestParseReachability covers every accepted value.
func TestParseReachability(t *testing.T) {
	t.Parallel()

	cases := map[string]connection.Reachability{
		"":            connection.ReachabilityOnline,
		"online":      connection.ReachabilityOnline,
		"connecting":  connection.ReachabilityConnecting,
		"offline":     connection.ReachabilityOffline,
		"unavailable": connection.ReachabilityUnavailable,
	}
	for in, want := range cases {
		got, err := ParseReachability(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseReachability("nope")
	require.Error(t, err)
}
