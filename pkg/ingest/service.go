// Package ingest turns uploaded files into registered, queryable datasets.
package ingest

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mimir-aip/mimir-insight/pkg/inference"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/materializer"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/parser"
	"github.com/mimir-aip/mimir-insight/pkg/registry"
)

// Config configures ingestion
type Config struct {
	MaxBytes         int64
	SampleSize       int
	NumericThreshold float64
	Sheet            string
}

// UploadRequest is a file to ingest
type UploadRequest struct {
	// Name is the display name. Empty means the file name without extension.
	Name     string
	Filename string
	Size     int64
	Body     io.Reader
}

// Meta describes the origin of already-parsed rows
type Meta struct {
	Name     string
	Filename string
	Size     int64
}

// Service runs the parse, infer, materialize and register pipeline
type Service struct {
	config       Config
	inference    *inference.Engine
	materializer *materializer.Materializer
	registry     *registry.Registry
	logger       *logging.Logger
}

// NewService creates an ingestion service
func NewService(cfg Config, m *materializer.Materializer, r *registry.Registry, logger *logging.Logger) *Service {
	return &Service{
		config: cfg,
		inference: inference.NewEngine(inference.Config{
			SampleSize: cfg.SampleSize,
			Threshold:  cfg.NumericThreshold,
		}),
		materializer: m,
		registry:     r,
		logger:       logging.OrDefault(logger),
	}
}

// IngestFile parses an uploaded file and ingests its rows. Unsupported formats are
// rejected before the body is read.
func (s *Service) IngestFile(ctx context.Context, req UploadRequest) (*models.IngestResult, error) {
	table, err := s.ParseUpload(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.IngestRows(ctx, Meta{Name: req.Name, Filename: req.Filename, Size: req.Size}, table.Columns, table.Rows)
}

// ParseUpload detects the format of req.Filename and parses the body. Nothing is read
// from the body when the format is unsupported.
func (s *Service) ParseUpload(ctx context.Context, req UploadRequest) (*parser.Table, error) {
	if _, _, err := parser.Detect(req.Filename); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, models.NewValidationError("file body is required")
	}

	start := time.Now()
	table, err := parser.Parse(ctx, req.Filename, req.Body, parser.Options{
		MaxBytes: s.config.MaxBytes,
		Sheet:    s.config.Sheet,
	})
	if err != nil {
		s.logger.Warn("Failed to parse upload",
			logging.Component("ingest"),
			logging.String("filename", req.Filename),
			logging.Error(err))
		return nil, err
	}
	s.logger.Debug("Upload parsed",
		logging.Component("ingest"),
		logging.String("filename", req.Filename),
		logging.Int("rows", len(table.Rows)),
		logging.Int("columns", len(table.Columns)),
		logging.Duration("duration", time.Since(start)))
	return table, nil
}

// IngestRows infers a schema for rows, materializes them and registers the dataset.
// Nothing is left in storage when any step fails.
func (s *Service) IngestRows(ctx context.Context, meta Meta, columns []string, rows []models.Row) (*models.IngestResult, error) {
	if len(rows) == 0 {
		return nil, models.NewParseError("no data rows")
	}
	if len(columns) == 0 {
		return nil, models.NewParseError("no columns")
	}
	if err := parser.ValidateColumns(columns); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = parser.BaseName(meta.Filename)
	}
	if name == "" {
		return nil, models.NewValidationError("dataset name is required")
	}

	start := time.Now()
	log := s.logger.WithFields(logging.Component("ingest"), logging.String("dataset", name))

	schema := s.inference.Infer(rows, columns)

	staging, err := s.materializer.Stage(ctx, schema, rows)
	if err != nil {
		log.Error("Failed to materialize rows", err)
		return nil, err
	}

	dataset, err := s.registry.Register(ctx, registry.Entry{
		Name:     name,
		Filename: meta.Filename,
		FileSize: meta.Size,
		Schema:   schema,
		RowCount: staging.RowCount,
	}, func(ctx context.Context, tx *sqlx.Tx, id int64) (string, error) {
		return s.materializer.Promote(ctx, tx, staging, id)
	})
	if err != nil {
		// Cleanup must run even if the request was cancelled
		if derr := s.materializer.Discard(context.WithoutCancel(ctx), staging); derr != nil {
			log.Warn("Failed to discard staging table",
				logging.String("staging", staging.Name),
				logging.Error(derr))
		}
		log.Error("Failed to register dataset", err)
		return nil, err
	}

	preview := rows
	if len(preview) > models.PreviewSize {
		preview = preview[:models.PreviewSize]
	}

	log.Info("Dataset ingested",
		logging.Int64("dataset_id", dataset.ID),
		logging.Int64("rows", dataset.RowCount),
		logging.Int("columns", len(schema)),
		logging.Duration("duration", time.Since(start)))

	return &models.IngestResult{Dataset: dataset, Preview: preview}, nil
}
