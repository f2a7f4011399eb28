package cli

import (
	"os"

	"github.com/spf13/cobra"

	"semlayer/internal/declarative"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models in the model directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := declarative.LoadDirectory(getModelDir(cmd))
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				type entry struct {
					Name        string `json:"name"`
					Description string `json:"description,omitempty"`
				}
				out := []entry{}
				for _, n := range registry.Names() {
					out = append(out, entry{Name: n, Description: registry.Description(n)})
				}
				return printJSON(os.Stdout, out)
			}

			rows := [][]string{}
			for _, n := range registry.Names() {
				rows = append(rows, []string{n, registry.Description(n)})
			}
			return printTable(os.Stdout, []string{"NAME", "DESCRIPTION"}, rows)
		},
	}
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <model>",
		Short: "Show a model's tables, dimensions, and measures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadModel(cmd, args[0])
			if err != nil {
				return err
			}
			desc := model.Describe()

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, desc)
			}

			rows := [][]string{}
			for _, d := range desc.Dimensions {
				kind := "dimension"
				if d.IsTime {
					kind = "time dimension"
				}
				rows = append(rows, []string{d.Name, kind, d.Table})
			}
			for _, m := range desc.Measures {
				rows = append(rows, []string{m.Name, "measure", m.Table})
			}
			for _, c := range desc.CalculatedMeasures {
				rows = append(rows, []string{c.Name, "calculated measure", c.Table})
			}
			return printTable(os.Stdout, []string{"FIELD", "KIND", "TABLE"}, rows)
		},
	}
}

func newGraphCmd() *cobra.Command {
	var (
		field     string
		direction string
		depth     int
	)

	cmd := &cobra.Command{
		Use:   "graph <model>",
		Short: "Show a model's field dependency graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := loadModel(cmd, args[0])
			if err != nil {
				return err
			}
			graph := model.DependencyGraph()

			if field != "" {
				var fields []string
				switch direction {
				case "upstream":
					fields = graph.Predecessors(field, depth)
				case "downstream":
					fields = graph.Successors(field, depth)
				default:
					return cmd.Help()
				}
				if getOutputFormat(cmd) == "json" {
					return printJSON(os.Stdout, fields)
				}
				rows := make([][]string, len(fields))
				for i, f := range fields {
					rows[i] = []string{f}
				}
				return printTable(os.Stdout, []string{"FIELD"}, rows)
			}

			export := graph.Export()
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, export)
			}
			rows := make([][]string, len(export.Edges))
			for i, e := range export.Edges {
				rows[i] = []string{e.Source, e.Target, e.Type}
			}
			return printTable(os.Stdout, []string{"FIELD", "DEPENDS ON", "TYPE"}, rows)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Limit output to the lineage of one field")
	cmd.Flags().StringVar(&direction, "direction", "upstream", "Lineage direction (upstream, downstream)")
	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum lineage depth (0 = unlimited)")
	return cmd
}
