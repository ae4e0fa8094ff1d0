package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "insightctl",
		Short:         "Ingest tabular files and query them from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (overrides INSIGHT_CONFIG)")
	root.PersistentFlags().String("data-dir", "", "data directory (overrides STORAGE_DIR)")
	addCommands(root)

	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

func addCommands(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "ingest file",
		Short: "Ingest a CSV, TSV or XLSX file as a new dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  ingestFile}
	cmd.Flags().String("name", "", "dataset name (default: file name without extension)")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "list",
		Short: "List datasets, newest first",
		Args:  cobra.NoArgs,
		RunE:  listDatasets}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "show id",
		Short: "Show a dataset and its schema",
		Args:  cobra.ExactArgs(1),
		RunE:  showDataset}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "rows id",
		Short: "Print raw rows of a dataset in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE:  listRows}
	cmd.Flags().Int("limit", 20, "maximum rows to print (at most 100000)")
	cmd.Flags().Int("offset", 0, "rows to skip")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "query id",
		Short: "Run a grouped aggregate or filtered query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery}
	cmd.Flags().String("group-by", "", "column to group by")
	cmd.Flags().String("agg-func", "", "aggregate function: sum, avg, count, max or min")
	cmd.Flags().String("agg-column", "", "column to aggregate")
	cmd.Flags().StringArray("filter", nil, "filter as column:op:value, repeatable")
	root.AddCommand(cmd)
}
