package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewUpdateCommand applies the pending change sets.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Apply all change sets that have not been applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				sets, err := s.changeSets()
				if err != nil {
					return err
				}
				result, err := s.coordinator.Update(ctx, sets)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Result("update", result)
			})
		},
	}
}

// NewChangelogSyncCommand records the pending change sets without running them.
func NewChangelogSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "changelog-sync",
		Short: "Mark all pending change sets as applied without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				sets, err := s.changeSets()
				if err != nil {
					return err
				}
				result, err := s.coordinator.ChangelogSync(ctx, sets)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Result("sync", result)
			})
		},
	}
}

// NewStatusCommand lists the pending change sets.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the change sets that have not been applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				sets, err := s.changeSets()
				if err != nil {
					return err
				}
				pending, err := s.coordinator.Status(ctx, sets)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Pending(pending)
			})
		},
	}
}

// NewHistoryCommand prints the ledger.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the applied change sets in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				entries, err := s.coordinator.History(ctx)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).History(entries)
			})
		},
	}
}

// NewValidateCommand parses the change log without touching any store.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the change log parses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := loadChangeLog(opts.config.ChangeLog)
			if err != nil {
				return err
			}
			return newPrinter(opts, cmd.OutOrStdout()).Message(
				fmt.Sprintf("%s is valid: %d change set(s)", opts.config.ChangeLog, len(sets)))
		},
	}
}

// NewTagCommand tags the latest ledger entry.
func NewTagCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <tag>",
		Short: "Tag the most recently applied change set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := s.coordinator.Tag(ctx, args[0]); err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Message(fmt.Sprintf("Tagged the ledger with %s", args[0]))
			})
		},
	}
}

// NewTagExistsCommand reports whether a tag exists.
func NewTagExistsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag-exists <tag>",
		Short: "Report whether a tag exists in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				exists, err := s.coordinator.TagExists(ctx, args[0])
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Value("exists", exists)
			})
		},
	}
}

// NewRollbackCountCommand rolls back the most recent change sets.
func NewRollbackCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-count <n>",
		Short: "Roll back the n most recently applied change sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid count %q: must be a non-negative integer", args[0]))
			}
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				sets, err := s.changeSets()
				if err != nil {
					return err
				}
				result, err := s.coordinator.RollbackCount(ctx, sets, count)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Result("roll back", result)
			})
		},
	}
}

// NewRollbackCommand rolls back everything applied after a tag.
func NewRollbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <tag>",
		Short: "Roll back the change sets applied after the tagged one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				sets, err := s.changeSets()
				if err != nil {
					return err
				}
				result, err := s.coordinator.RollbackToTag(ctx, sets, args[0])
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Result("roll back", result)
			})
		},
	}
}

// NewClearChecksumsCommand clears the stored checksums.
func NewClearChecksumsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-checksums",
		Short: "Clear the stored checksums so the next update recomputes them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := s.coordinator.ClearCheckSums(ctx); err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Message("Cleared all checksums")
			})
		},
	}
}

// NewListLocksCommand shows who holds the lock.
func NewListLocksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-locks",
		Short: "Show who holds the change log lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				locks, err := s.coordinator.ListLocks(ctx)
				if err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Locks(locks)
			})
		},
	}
}

// NewReleaseLocksCommand removes the lock whoever holds it.
func NewReleaseLocksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release-locks",
		Short: "Remove the change log lock regardless of its holder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := s.coordinator.ReleaseLocks(ctx); err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Message("Released the change log lock")
			})
		},
	}
}

// NewDropAllCommand drops the ledger and lock collections.
func NewDropAllCommand(opts *RootOptions) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "drop-all",
		Short: "Drop the ledger and lock collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return NewExitError(ExitCommandError, "drop-all deletes the ledger: pass --yes to confirm")
			}
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := s.coordinator.DropAll(ctx); err != nil {
					return err
				}
				return newPrinter(opts, cmd.OutOrStdout()).Message("Dropped the ledger and lock collections")
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm dropping the ledger")
	return cmd
}

// NewVersionCommand prints the CLI version.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPrinter(opts, cmd.OutOrStdout()).Value("version", Version)
		},
	}
}
