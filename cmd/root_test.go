package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/config"
	"github.com/JakeFAU/accountlink/internal/server"
)

const (
	personalID = "0190c8a4-7d1e-7c3a-9f55-1b2c3d4e5f60"
	workID     = "0190c8a4-7d1e-7c3a-9f55-1b2c3d4e5f61"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  development: false
summarizer:
  throttle: 1ms
simulator:
  latency: 1ms
connection:
  keep_alive_delay: 1h
events:
  max_batch_wait: 10ms
accounts:
  - id: ` + personalID + `
    name: Personal
    reachability: online
  - id: ` + workID + `
    name: Work
    reachability: offline
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// useQuietApp swaps the application factory for one that logs nowhere.
func useQuietApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
		return server.Build(ctx, cfg, server.WithLogger(zap.NewNop()))
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestStatusListsConfiguredAccounts prints every configured account without connecting.
func TestStatusListsConfiguredAccounts(t *testing.T) {
	useQuietApp(t)

	out, err := execute(t, "status", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "Account Connections")
	require.Contains(t, out, "Personal ("+personalID+")")
	require.Contains(t, out, "Work ("+workID+")")
	require.Contains(t, out, "noCore")
}

// TestStatusConnect connects accounts before rendering them.
func TestStatusConnect(t *testing.T) {
	useQuietApp(t)

	out, err := execute(t, "status", "--config", writeConfig(t), "--connect", "--settle", "20ms")
	require.NoError(t, err)
	require.Contains(t, out, "online")
	require.Contains(t, out, "coreAvailable")
	require.Contains(t, out, "No internet connection. Contents from cache.")
}

// TestDemoRunsScript plays the scripted sequence and reports status changes.
func TestDemoRunsScript(t *testing.T) {
	useQuietApp(t)

	out, err := execute(t, "demo", "--config", writeConfig(t), "--step", "5ms", "--auth-failure")
	require.NoError(t, err)
	require.Contains(t, out, personalID+"  status  connecting")
	require.Contains(t, out, personalID+"  status  busy")
	require.Contains(t, out, personalID+"  status  authenticationError")
	require.Contains(t, out, workID+"  status  coreAvailable")
}

// TestFactoryErrorIsReturned surfaces application build failures.
func TestFactoryErrorIsReturned(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, *config.Config) (App, error) {
		return nil, errors.New("boom")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "status")
	require.ErrorContains(t, err, "failed to initialize application services: boom")
}

// TestMissingConfigFile fails before the application is built.
func TestMissingConfigFile(t *testing.T) {
	useQuietApp(t)

	_, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "load config")
}

// TestResolveAppWithoutApp reports uninitialized services.
func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, _, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}
