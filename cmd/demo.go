package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/core/sim"
	idgen "github.com/JakeFAU/accountlink/internal/id/uuid"
	"github.com/JakeFAU/accountlink/internal/progress"
)

const (
	demoUploads     = 3
	authFailureWait = 2 * time.Second
)

type demoOptions struct {
	step        time.Duration
	authFailure bool
}

func newDemoCmd() *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Connect every account and play a scripted busy and upload sequence",
		Long: `Connects every configured account (or a generated one when none are
configured) against the simulated core, reports a busy list retrieval and a
batch of uploads, then prints the final status table and disconnects.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, cfg, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			provider, ok := appInstance.Provider().(*sim.Provider)
			if !ok {
				return errors.New("demo requires the simulated core provider")
			}
			out := &syncWriter{w: cmd.OutOrStdout()}
			if err := runDemo(cmd.Context(), out, appInstance, provider, opts); err != nil {
				return err
			}
			writeStatus(out, appInstance, cfg, appInstance.Pool().Connections())
			if err := appInstance.Pool().DisconnectAll(cmd.Context()); err != nil {
				return fmt.Errorf("disconnect all: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.step, "step", 150*time.Millisecond, "delay between scripted steps")
	cmd.Flags().BoolVar(&opts.authFailure, "auth-failure", false, "raise an authentication failure on the first account")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, appInstance App, provider *sim.Provider, opts demoOptions) error {
	p := appInstance.Pool()
	conns := p.Connections()
	if len(conns) == 0 {
		id, err := idgen.NewAccountID()
		if err != nil {
			return fmt.Errorf("generate account id: %w", err)
		}
		conns = append(conns, p.Connection(id))
	}

	consumer := connection.NewConsumer(
		connection.WithStatusObserver(func(c *connection.Connection, status connection.Status, initial bool) {
			if initial {
				return
			}
			fmt.Fprintf(out, "%s  status  %s\n", c.AccountID(), status)
		}),
		connection.WithProgressUpdateHandler(func(c *connection.Connection, summary *progress.Summary, autoCollapse bool) {
			if autoCollapse || summary == nil {
				return
			}
			fmt.Fprintf(out, "%s  summary %s\n", c.AccountID(), summary)
		}),
	)

	for _, c := range conns {
		if err := c.Add(ctx, consumer); err != nil {
			return fmt.Errorf("register consumer for %s: %w", c.AccountID(), err)
		}
		if err := c.Connect(ctx, consumer); err != nil {
			fmt.Fprintf(out, "%s  connect failed: %v\n", c.AccountID(), err)
		}
	}
	sleep(ctx, opts.step)

	for _, c := range conns {
		if c.Core() == nil {
			continue
		}
		core := provider.Core(c.AccountID())
		listing := progress.NewOperation(progress.OpRetrieveList, "Retrieving file list", -1)
		core.Busy(listing)
		sleep(ctx, opts.step)
		listing.Finish()
		core.Busy(nil)

		uploads := make([]*progress.Progress, demoUploads)
		for i := range uploads {
			uploads[i] = progress.NewOperation(progress.OpUpload, fmt.Sprintf("Uploading file %d", i+1), 10)
			c.Summarizer().StartTracking(uploads[i])
		}
		for range 10 {
			for _, u := range uploads {
				u.Advance(1)
			}
			sleep(ctx, opts.step/4)
		}
		for _, u := range uploads {
			u.Finish()
		}
	}

	if opts.authFailure {
		if c := conns[0]; c.Core() != nil {
			provider.Core(c.AccountID()).RaiseError(
				&connection.AuthenticationError{Kind: connection.AuthFailed, Method: "OAuth2"}, nil)
			waitForStatus(ctx, c, connection.StatusAuthenticationError, authFailureWait)
		}
	}
	sleep(ctx, opts.step)

	for _, c := range conns {
		if err := c.Remove(ctx, consumer); err != nil {
			return fmt.Errorf("remove consumer for %s: %w", c.AccountID(), err)
		}
	}
	return nil
}

// waitForStatus polls c until it reports want or timeout elapses.
func waitForStatus(ctx context.Context, c *connection.Connection, want connection.Status, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.Status() != want {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		sleep(ctx, 5*time.Millisecond)
	}
	return true
}

// syncWriter serializes writes coming from the delivery goroutine and the
// command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("write output: %w", err)
	}
	return n, nil
}
