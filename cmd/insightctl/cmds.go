package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mimir-aip/mimir-insight/pkg/app"
	"github.com/mimir-aip/mimir-insight/pkg/config"
	"github.com/mimir-aip/mimir-insight/pkg/ingest"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/parser"
)

// Longest first so "<=" wins over "<"
var filterOperators = []models.FilterOperator{
	models.OpLessEqual, models.OpGreaterEqual, models.OpNotEqual,
	models.OpEqual, models.OpLess, models.OpGreater,
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv("INSIGHT_CONFIG", path)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}

	// Logs go to stderr so stdout stays valid JSON
	logger := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.SetOutput(cmd.ErrOrStderr())

	return app.New(cmd.Context(), cfg, logger)
}

func showJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid dataset id '%s'", arg)
	}
	return id, nil
}

// parseFilter parses column:op:value. The column and the value may themselves
// contain colons; the first ":<op>:" separates them.
func parseFilter(s string) (models.Filter, error) {
	for _, op := range filterOperators {
		sep := ":" + string(op) + ":"
		if i := strings.Index(s, sep); i > 0 {
			return models.Filter{
				Column:   s[:i],
				Operator: op,
				Value:    s[i+len(sep):],
			}, nil
		}
	}
	return models.Filter{}, errors.Errorf("bad filter '%s', expected column:op:value", s)
}

func ingestFile(cmd *cobra.Command, args []string) error {
	if _, _, err := parser.Detect(args[0]); err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	result, err := a.Ingest.IngestFile(cmd.Context(), ingest.UploadRequest{
		Name:     name,
		Filename: info.Name(),
		Size:     info.Size(),
		Body:     f,
	})
	if err != nil {
		return err
	}
	return showJSON(cmd, result)
}

func listDatasets(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	datasets, err := a.Registry.List(cmd.Context())
	if err != nil {
		return err
	}
	return showJSON(cmd, datasets)
}

func showDataset(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dataset, err := a.Registry.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	return showJSON(cmd, dataset)
}

func listRows(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Query.Page(cmd.Context(), id, limit, offset)
	if err != nil {
		return err
	}
	return showJSON(cmd, rows)
}

func buildRequest(cmd *cobra.Command, id int64) (models.AggregationRequest, error) {
	req := models.AggregationRequest{DatasetID: id}
	req.GroupBy, _ = cmd.Flags().GetString("group-by")

	fn, _ := cmd.Flags().GetString("agg-func")
	column, _ := cmd.Flags().GetString("agg-column")
	if fn != "" || column != "" {
		req.Aggregate = &models.Aggregate{
			Column:   column,
			Function: models.AggregateFunc(strings.ToLower(fn)),
		}
	}

	filters, _ := cmd.Flags().GetStringArray("filter")
	for _, raw := range filters {
		f, err := parseFilter(raw)
		if err != nil {
			return req, err
		}
		req.Filters = append(req.Filters, f)
	}
	return req, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	req, err := buildRequest(cmd, id)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Query.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}
	return showJSON(cmd, rows)
}
