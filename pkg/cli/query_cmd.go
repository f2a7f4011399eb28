package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"semlayer/internal/declarative"
	"semlayer/internal/engine"
	"semlayer/internal/semantic"
)

// queryFlags holds the query-shaping flags shared by explain and query.
type queryFlags struct {
	dimensions []string
	measures   []string
	filters    []string
	grain      string
	start      string
	end        string
	orderBy    []string
	limit      int
}

func (f *queryFlags) register(flags *pflag.FlagSet) {
	flags.StringSliceVarP(&f.dimensions, "dimensions", "d", nil, "Dimensions to group by")
	flags.StringSliceVarP(&f.measures, "measures", "m", nil, "Measures to aggregate")
	flags.StringArrayVarP(&f.filters, "filter", "f", nil, "Filter expression, e.g. 'region = \"West\"' (repeatable)")
	flags.StringVar(&f.grain, "grain", "", "Time grain for time dimensions (day, week, month, ...)")
	flags.StringVar(&f.start, "start", "", "Inclusive start of the time range")
	flags.StringVar(&f.end, "end", "", "Inclusive end of the time range")
	flags.StringSliceVar(&f.orderBy, "order", nil, "Order by output field; prefix with '-' for descending")
	flags.IntVar(&f.limit, "limit", 0, "Maximum number of rows")
}

func (f *queryFlags) build() (semantic.Query, error) {
	q := semantic.Query{
		Dimensions: f.dimensions,
		Measures:   f.measures,
		Limit:      f.limit,
	}
	for _, filter := range f.filters {
		q.Filters = append(q.Filters, filter)
	}
	if f.grain != "" {
		g, err := semantic.ParseGrain(f.grain)
		if err != nil {
			return semantic.Query{}, err
		}
		q.TimeGrain = g
	}
	if f.start != "" || f.end != "" {
		if f.start == "" || f.end == "" {
			return semantic.Query{}, fmt.Errorf("--start and --end must be set together")
		}
		q.TimeRange = &semantic.TimeRange{Start: f.start, End: f.end}
	}
	for _, o := range f.orderBy {
		if name, ok := strings.CutPrefix(o, "-"); ok {
			q.OrderBy = append(q.OrderBy, semantic.OrderBy{Field: name, Desc: true})
		} else {
			q.OrderBy = append(q.OrderBy, semantic.OrderBy{Field: o})
		}
	}
	return q, nil
}

func newExplainCmd() *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "explain <model>",
		Short: "Compile a query and print the generated SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadModel(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := flags.build()
			if err != nil {
				return err
			}
			plan, err := model.Compile(q)
			if err != nil {
				return err
			}
			sqlText, err := plan.SQL()
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{
					"columns": plan.Columns,
					"sql":     sqlText,
				})
			}
			_, _ = fmt.Fprintln(os.Stdout, sqlText)
			return nil
		},
	}

	flags.register(cmd.Flags())
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		flags      queryFlags
		dbPath     string
		initScript string
	)

	cmd := &cobra.Command{
		Use:   "query <model>",
		Short: "Compile and run a query against DuckDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadModel(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := flags.build()
			if err != nil {
				return err
			}
			plan, err := model.Compile(q)
			if err != nil {
				return err
			}
			sqlText, err := plan.SQL()
			if err != nil {
				return err
			}

			exec, err := engine.Open(dbPath)
			if err != nil {
				return err
			}
			defer exec.Close() //nolint:errcheck

			if initScript != "" {
				script, err := os.ReadFile(initScript) //nolint:gosec // path is caller-controlled
				if err != nil {
					return fmt.Errorf("read init script: %w", err)
				}
				for _, stmt := range strings.Split(string(script), ";") {
					if strings.TrimSpace(stmt) == "" {
						continue
					}
					if err := exec.Exec(cmd.Context(), stmt); err != nil {
						return err
					}
				}
			}

			result, err := exec.Query(cmd.Context(), sqlText)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, result)
			}
			rows := make([][]string, len(result.Rows))
			for i, row := range result.Rows {
				cells := make([]string, len(row))
				for j, v := range row {
					cells[j] = fmt.Sprintf("%v", v)
				}
				rows[i] = cells
			}
			return printTable(os.Stdout, result.Columns, rows)
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB database file (empty for in-memory)")
	cmd.Flags().StringVar(&initScript, "init", "", "SQL script to run before the query")
	return cmd
}

// loadModel loads the model directory and picks one model.
func loadModel(cmd *cobra.Command, name string) (*semantic.Model, error) {
	registry, err := declarative.LoadDirectory(getModelDir(cmd))
	if err != nil {
		return nil, err
	}
	model, ok := registry.Model(name)
	if !ok {
		return nil, fmt.Errorf("model %q not found in %s", name, getModelDir(cmd))
	}
	return model, nil
}
