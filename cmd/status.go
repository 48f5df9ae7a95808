package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/accountlink/internal/config"
	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/render"
)

func newStatusCmd() *cobra.Command {
	var (
		connect bool
		settle  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the configured accounts and their connection status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, cfg, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			conns := appInstance.Pool().Connections()
			if connect {
				for _, c := range conns {
					if err := c.Connect(cmd.Context(), nil); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", c.AccountID(), err)
					}
				}
				sleep(cmd.Context(), settle)
			}
			writeStatus(cmd.OutOrStdout(), appInstance, cfg, conns)
			return nil
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect every account before printing")
	cmd.Flags().DurationVar(&settle, "settle", 250*time.Millisecond, "time to let summaries update after connecting")
	return cmd
}

func writeStatus(w io.Writer, appInstance App, cfg *config.Config, conns []*connection.Connection) {
	names := accountNames(cfg)
	rows := make([]render.Row, 0, len(conns))
	for _, c := range conns {
		var failure *connection.AuthFailure
		if wd, ok := appInstance.Pool().Watchdog(c.AccountID()); ok {
			failure = wd.Failure()
		}
		rows = append(rows, render.RowFor(c, names[c.AccountID()], failure))
	}
	fmt.Fprintln(w, render.Status(rows))
}

func accountNames(cfg *config.Config) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		if id, err := uuid.Parse(acct.ID); err == nil {
			names[id] = acct.Name
		}
	}
	return names
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
