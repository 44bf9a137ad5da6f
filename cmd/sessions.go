package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matiz0/matiz/internal/config"
	"github.com/matiz0/matiz/internal/database"
	"github.com/matiz0/matiz/internal/log"
	"github.com/matiz0/matiz/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsResetCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var userID string
	var limit int32

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessionManager(cmd.Context(), func(ctx context.Context, mgr *session.Manager) error {
				sessions, err := mgr.List(ctx, userID, limit, 0)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Println("no sessions")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
						s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user identifier (required)")
	cmd.Flags().Int32Var(&limit, "limit", 20, "maximum number of sessions")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsResetCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Clear a session's history, keeping the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			return withSessionManager(cmd.Context(), func(ctx context.Context, mgr *session.Manager) error {
				sess, _, err := mgr.Resolve(ctx, userID, &id)
				if err != nil {
					return err
				}
				if err := mgr.Reset(ctx, sess); err != nil {
					return err
				}
				fmt.Printf("session %s cleared\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user identifier (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			return withSessionManager(cmd.Context(), func(ctx context.Context, mgr *session.Manager) error {
				sess, _, err := mgr.Resolve(ctx, userID, &id)
				if err != nil {
					return err
				}
				if err := mgr.Delete(ctx, sess); err != nil {
					return err
				}
				fmt.Printf("session %s deleted\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user identifier (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// withSessionManager wires just enough to run session commands: no AI
// provider, only configuration, database and the session layer.
func withSessionManager(ctx context.Context, fn func(context.Context, *session.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := log.New(log.Config{Level: slog.LevelWarn})

	pool, cleanup, err := database.NewPool(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer cleanup()

	store := session.NewStore(pool, pool, logger)
	cache := session.NewCache(cfg.CacheMaxSessions, cfg.CacheMaxPerUser, logger)
	mgr := session.NewManager(store, cache, cfg.SessionPolicy, cfg.HistoryWindow, logger)
	return fn(ctx, mgr)
}
