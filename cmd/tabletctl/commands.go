package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/tabletdb"
)

// withDB opens the database, runs fn and closes it. Close flushes, so writes
// made by fn are durable once withDB returns nil.
func (a *app) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *tabletdb.DB) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openDB(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(ctx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close database: %w", closeErr))
		}
	}()

	return fn(ctx, db)
}

func (a *app) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Insert a row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				return db.Insert(ctx, []byte(args[0]), []byte(args[1]))
			})
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				v, err := db.Get(ctx, []byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(v))
				return nil
			})
		},
	}
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				return db.Delete(ctx, []byte(args[0]))
			})
		},
	}
}

func (a *app) scanCommand() *cobra.Command {
	var (
		lower, upper string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print rows in a key range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				rows, err := db.Scan(ctx, optionalKey(cmd, "lower", lower), optionalKey(cmd, "upper", upper), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range rows {
					fmt.Fprintf(out, "%s\t%s\n", r.Key, r.Value)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&lower, "lower", "", "inclusive lower bound (default open)")
	cmd.Flags().StringVar(&upper, "upper", "", "inclusive upper bound (default open)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 = no limit)")

	return cmd
}

// optionalKey returns nil for a bound flag that was not given.
func optionalKey(cmd *cobra.Command, name, value string) []byte {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return []byte(value)
}

func (a *app) flushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush in-memory rows and pending deletes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				return db.Flush(ctx)
			})
		},
	}
}

func (a *app) compactCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "compact [ROWSET_ID...]",
		Short: "Merge disk rowsets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass either --all or rowset IDs")
			}
			ids := make([]tabletdb.RowSetID, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid rowset ID %q: %w", arg, err)
				}
				ids = append(ids, tabletdb.RowSetID(id))
			}

			return a.withDB(cmd, func(ctx context.Context, db *tabletdb.DB) error {
				if all {
					return db.CompactAll(ctx)
				}
				return db.Compact(ctx, ids...)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "compact every disk rowset")

	return cmd
}
