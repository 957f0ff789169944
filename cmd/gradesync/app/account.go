package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/application/query"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/external/nzua"
	"github.com/nzua-hub/grade-notifier/pkg/logger"
)

// withContainer loads configuration, wires the graph and runs fn.
func withContainer(ctx context.Context, opts *rootOptions, fn func(*container) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c, err := newContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func parseUserID(s string) (account.UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || !account.UserID(n).IsValid() {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return account.UserID(n), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var login, password string

	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Store diary credentials and take the first grade snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withContainer(ctx, opts, func(c *container) error {
				acc, err := c.sessions.SetCredentials(ctx, command.SetCredentialsCommand{
					UserID:   id,
					Login:    login,
					Password: password,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", acc.Profile.FullName)

				// The first sync only records the baseline; nothing is announced.
				changes, err := c.syncer.Handle(ctx, command.SyncUserCommand{UserID: id})
				if err != nil {
					return fmt.Errorf("baseline sync: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "baseline: %d grade(s)\n", changes.Total())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "Diary login")
	cmd.Flags().StringVar(&password, "password", "", "Diary password")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "sync <user-id>",
		Short: "Sync one user now and print the change-set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withContainer(ctx, opts, func(c *container) error {
				changes, err := c.syncer.Handle(ctx, command.SyncUserCommand{UserID: id})
				if err != nil {
					return err
				}
				if changes == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "remote returned no data, snapshot kept")
					return nil
				}
				if notify && !changes.IsEmpty() {
					if err := c.dispatcher.Dispatch(ctx, id, *changes); err != nil {
						c.log.Warn("delivery failed", logger.UserID(int64(id)), logger.Err(err))
					}
				}
				return printJSON(cmd.OutOrStdout(), changes)
			})
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "Deliver the changes through the configured channels")
	return cmd
}

// fetchKinds lists the kinds that take only a date range; subject-grades
// also needs a subject id and is read by sync instead.
func fetchKinds() []string {
	kinds := make([]string, 0, len(nzua.Kinds))
	for _, k := range nzua.Kinds {
		if k != nzua.KindSubjectGrades {
			kinds = append(kinds, string(k))
		}
	}
	return kinds
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	kinds := fetchKinds()

	return &cobra.Command{
		Use:       "fetch <user-id> <kind> <date> [date]",
		Short:     "Print a raw date-range response from the diary API",
		Long:      "Kinds: " + strings.Join(kinds, ", ") + ". Dates are YYYY-MM-DD.",
		Args:      cobra.RangeArgs(3, 4),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withContainer(ctx, opts, func(c *container) error {
				body, err := c.ranges.Handle(ctx, query.FetchRangeQuery{
					UserID: id,
					Kind:   args[1],
					Dates:  args[2:],
				})
				if err != nil {
					return err
				}
				var v any
				if err := json.Unmarshal(body, &v); err != nil {
					_, err = cmd.OutOrStdout().Write(append(body, '\n'))
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <user-id>",
		Short: "Show the stored profile of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withContainer(ctx, opts, func(c *container) error {
				p, err := c.profiles.Handle(ctx, query.GetProfileQuery{UserID: id})
				if err != nil {
					return err
				}
				return printProfile(cmd.OutOrStdout(), p)
			})
		},
	}
}

func printProfile(w io.Writer, p *query.ProfileDTO) error {
	expires := "-"
	if p.TokenExpiresAt != nil {
		expires = p.TokenExpiresAt.Format(time.DateTime)
	}
	_, err := fmt.Fprintf(w, "Name:       %s\nLogin:      %s\nStudent ID: %d\nAuthorized: %t\nExpires:    %s\nGrades:     %d\n",
		p.FullName, p.Login, p.StudentID, p.Authorized, expires, p.GradesTracked)
	return err
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <user-id>",
		Short: "Delete the user's credentials, session and snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withContainer(ctx, opts, func(c *container) error {
				if err := c.sessions.Logout(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d logged out\n", id)
				return nil
			})
		},
	}
}
