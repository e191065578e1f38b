package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/router/qlog"
	"github.com/pg-sharding/dsrouter/router/relay"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	benchInstances int
	benchRounds    int
	benchReplay    string
)

func init() {
	benchCmd.Flags().IntVarP(&benchInstances, "instances", "n", 4, "number of router instances run in parallel")
	benchCmd.Flags().IntVarP(&benchRounds, "rounds", "r", 100, "times every instance runs the statements")
	benchCmd.Flags().StringVar(&benchReplay, "replay", "", "take statements from a saved query log")
}

var queryCmd = &cobra.Command{
	Use:   "query [statement...]",
	Short: "run statements, read from stdin when none are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		stmts, err := statements(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		inst, err := rt.newInstance()
		if err != nil {
			return err
		}
		defer func() {
			_ = inst.Close()
		}()

		ctx, cancel := signalContext()
		defer cancel()

		out := cmd.OutOrStdout()
		for _, stmt := range stmts {
			res, err := inst.Query(ctx, stmt)
			if err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
			printResult(out, res)
		}
		return nil
	},
}

var routeCmd = &cobra.Command{
	Use:   "route [statement...]",
	Short: "show where statements would go without running them",
	RunE: func(cmd *cobra.Command, args []string) error {
		stmts, err := statements(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		inst, err := rt.newInstance()
		if err != nil {
			return err
		}
		defer func() {
			_ = inst.Close()
		}()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "table\tdataset\toperation\tstatic\tstatement")
		for _, stmt := range stmts {
			res, op, err := inst.Route(stmt)
			if err != nil {
				fmt.Fprintf(w, "-\t-\t-\t-\t%s (%s)\n", shorten(stmt), dserror.Describe(err))
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", res.Table, res.Dataset, op, res.Static, shorten(stmt))
		}
		return w.Flush()
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench [statement...]",
	Short: "run statements from several router instances in parallel",
	RunE: func(cmd *cobra.Command, args []string) error {
		stmts, err := benchStatements(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := signalContext()
		defer cancel()

		start := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		for n := 0; n < benchInstances; n++ {
			g.Go(func() error {
				inst, err := rt.newInstance()
				if err != nil {
					return err
				}
				defer func() {
					_ = inst.Close()
				}()

				for round := 0; round < benchRounds; round++ {
					for _, stmt := range stmts {
						if _, err := inst.Query(gctx, stmt); err != nil {
							return err
						}
					}
				}
				dslog.Zero.Debug().
					Str("instance", inst.ID()).
					Int("queries", inst.Executor().NumQueries()).
					Msg("bench instance done")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d queries, %d failures, %d cache hits in %s\n",
			rt.stats.Queries(), rt.stats.Failures(), rt.stats.CacheHits(), time.Since(start).Round(time.Millisecond))

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		header := []string{"dataset", "operation", "count"}
		for _, q := range rt.stats.Quantiles() {
			header = append(header, fmt.Sprintf("q%g (ms)", q))
		}
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, row := range rt.stats.Report() {
			cols := []string{row.Dataset, row.Operation, fmt.Sprint(row.Count)}
			for _, v := range row.Quantiles {
				cols = append(cols, fmt.Sprintf("%.3f", v))
			}
			fmt.Fprintln(w, strings.Join(cols, "\t"))
		}
		return w.Flush()
	},
}

func benchStatements(args []string, in io.Reader) ([]string, error) {
	if benchReplay == "" {
		return statements(args, in)
	}
	saved, err := qlog.Recover(benchReplay)
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(saved))
	for _, q := range saved {
		// a found rows follow-up is issued again by the router itself
		res = append(res, strings.TrimSuffix(q.Query, "; SELECT FOUND_ROWS()"))
	}
	return res, nil
}

func printResult(out io.Writer, res *relay.Result) {
	switch res.Kind {
	case relay.KindDDL:
		fmt.Fprintf(out, "OK (%s)\n", res.Elapsed)
	case relay.KindAffected:
		if res.InsertID != 0 {
			fmt.Fprintf(out, "%d rows affected, insert id %d (%s)\n", res.RowsAffected, res.InsertID, res.Elapsed)
			return
		}
		fmt.Fprintf(out, "%d rows affected (%s)\n", res.RowsAffected, res.Elapsed)
	case relay.KindRows:
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		names := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			names[i] = c.Name
		}
		fmt.Fprintln(w, strings.Join(names, "\t"))
		for _, row := range res.Rows {
			vals := make([]string, len(row))
			for i, v := range row {
				vals[i] = formatValue(v)
			}
			fmt.Fprintln(w, strings.Join(vals, "\t"))
		}
		_ = w.Flush()
		fmt.Fprintf(out, "%d rows (%s)\n", res.NumRows, res.Elapsed)
	default:
		fmt.Fprintln(out, res.Value())
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func shorten(stmt string) string {
	const maxLen = 60
	if len(stmt) <= maxLen {
		return stmt
	}
	return stmt[:maxLen] + "..."
}
