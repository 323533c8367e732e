package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hupe1980/tabletdb"
)

func (a *app) inspectCommand() *cobra.Command {
	var endpoints bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show rowsets, key ranges and overlap depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(_ context.Context, db *tabletdb.DB) error {
				return inspect(cmd.OutOrStdout(), db, endpoints)
			})
		},
	}

	cmd.Flags().BoolVar(&endpoints, "endpoints", false, "also list the key endpoint sequence")

	return cmd
}

func inspect(w io.Writer, db *tabletdb.DB, withEndpoints bool) error {
	infos, err := db.RowSets()
	if err != nil {
		return err
	}
	st, err := db.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Tablet %s (manifest %d)\n\n", db.ID(), st.ManifestID)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"ID", "Kind", "Rows", "Deleted", "Size", "Blocks", "Min Key", "Max Key"})
	for _, info := range infos {
		minKey, maxKey := "-", "-"
		if info.Bounded {
			minKey, maxKey = fmt.Sprintf("%q", info.MinKey), fmt.Sprintf("%q", info.MaxKey)
		}
		tbl.AppendRow(table.Row{
			uint64(info.ID),
			info.Kind,
			humanize.Comma(int64(info.Rows)),
			humanize.Comma(int64(info.Deleted)),
			humanize.IBytes(uint64(info.Size)),
			info.Blocks,
			minKey,
			maxKey,
		})
	}
	tbl.AppendFooter(table.Row{
		"", "Total", humanize.Comma(int64(st.Rows)), "",
		humanize.IBytes(uint64(st.MemoryBytes + st.DiskBytes)), "", "", "",
	})
	tbl.Render()

	fmt.Fprintf(w, "\nDisk rowsets:          %d\n", st.DiskRowSets)
	fmt.Fprintf(w, "Unbounded rowsets:     %d\n", st.UnboundedRowSets)
	fmt.Fprintf(w, "Max overlap depth:     %d\n", st.MaxOverlapDepth)
	fmt.Fprintf(w, "Average overlap depth: %.2f\n", st.AverageOverlapDepth)
	if lookups := st.Cache.Hits + st.Cache.Misses; lookups > 0 {
		fmt.Fprintf(w, "Block cache hit rate:  %.1f%% of %s lookups\n",
			100*float64(st.Cache.Hits)/float64(lookups), humanize.Comma(lookups))
	}

	if !withEndpoints {
		return nil
	}

	eps, err := db.KeyEndpoints()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	etbl := table.NewWriter()
	etbl.SetOutputMirror(w)
	etbl.SetStyle(table.StyleLight)
	etbl.AppendHeader(table.Row{"Key", "Event", "Rowset"})
	for _, ep := range eps {
		etbl.AppendRow(table.Row{fmt.Sprintf("%q", ep.Key), ep.Type, uint64(ep.RowSet)})
	}
	etbl.Render()

	return nil
}
