// Package registry is the catalog of materialized datasets.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

const maxBusyRetries = 5

// AttachFunc binds storage to a freshly assigned dataset id inside the registration
// transaction and returns the storage reference
type AttachFunc func(ctx context.Context, tx *sqlx.Tx, datasetID int64) (string, error)

// Entry describes a dataset to register
type Entry struct {
	Name     string
	Filename string
	FileSize int64
	Schema   models.Schema
	RowCount int64
}

// Registry stores and retrieves dataset metadata
type Registry struct {
	store  *store.Store
	logger *logging.Logger
}

// New creates a registry backed by the given store
func New(s *store.Store, logger *logging.Logger) *Registry {
	return &Registry{store: s, logger: logging.OrDefault(logger)}
}

type datasetRow struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	Filename   string    `db:"filename"`
	FileSize   int64     `db:"file_size"`
	StorageRef string    `db:"storage_ref"`
	Schema     string    `db:"schema"`
	RowCount   int64     `db:"row_count"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r datasetRow) toModel() (*models.Dataset, error) {
	var schema models.Schema
	if err := json.Unmarshal([]byte(r.Schema), &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema of dataset %d: %w", r.ID, err)
	}
	return &models.Dataset{
		ID:         r.ID,
		Name:       r.Name,
		Filename:   r.Filename,
		FileSize:   r.FileSize,
		StorageRef: r.StorageRef,
		Schema:     schema,
		RowCount:   r.RowCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

const selectColumns = `id, name, filename, file_size, storage_ref, schema, row_count, created_at, updated_at`

// Register inserts a catalog entry and calls attach with the new id in the same
// transaction. Either both the entry and its storage exist afterwards, or neither does.
func (r *Registry) Register(ctx context.Context, entry Entry, attach AttachFunc) (*models.Dataset, error) {
	if entry.Name == "" {
		return nil, models.NewValidationError("dataset name is required")
	}
	if len(entry.Schema) == 0 {
		return nil, models.NewValidationError("dataset schema is empty")
	}

	schemaJSON, err := json.Marshal(entry.Schema)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to marshal schema")
	}

	var dataset *models.Dataset
	err = store.RetryOnBusy(func() error {
		now := time.Now().UTC()
		dataset = &models.Dataset{
			Name:      entry.Name,
			Filename:  entry.Filename,
			FileSize:  entry.FileSize,
			Schema:    entry.Schema,
			RowCount:  entry.RowCount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO datasets (name, filename, file_size, storage_ref, schema, row_count, created_at, updated_at)
				VALUES (?, ?, ?, '', ?, ?, ?, ?)`,
				dataset.Name, dataset.Filename, dataset.FileSize, string(schemaJSON),
				dataset.RowCount, dataset.CreatedAt, dataset.UpdatedAt)
			if err != nil {
				return models.WrapError(err, models.ErrorKindPersistence, "failed to insert dataset")
			}
			id, err := res.LastInsertId()
			if err != nil {
				return models.WrapError(err, models.ErrorKindPersistence, "failed to read dataset id")
			}
			dataset.ID = id

			if attach != nil {
				ref, err := attach(ctx, tx, id)
				if err != nil {
					return err
				}
				dataset.StorageRef = ref
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE datasets SET storage_ref = ? WHERE id = ?`, dataset.StorageRef, id); err != nil {
				return models.WrapError(err, models.ErrorKindPersistence, "failed to record storage reference")
			}
			return nil
		})
	}, maxBusyRetries)
	if err != nil {
		if models.KindOf(err) == "" {
			return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to register dataset")
		}
		return nil, err
	}

	r.logger.Info("Dataset registered",
		logging.Component("registry"),
		logging.Int64("dataset_id", dataset.ID),
		logging.String("storage_ref", dataset.StorageRef),
		logging.Int64("rows", dataset.RowCount))
	return dataset, nil
}

// List returns every dataset, newest first
func (r *Registry) List(ctx context.Context) ([]*models.Dataset, error) {
	var rows []datasetRow
	err := r.store.DB().SelectContext(ctx, &rows,
		`SELECT `+selectColumns+` FROM datasets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to list datasets")
	}

	datasets := make([]*models.Dataset, 0, len(rows))
	for _, row := range rows {
		d, err := row.toModel()
		if err != nil {
			return nil, models.WrapError(err, models.ErrorKindPersistence, "corrupt catalog entry")
		}
		datasets = append(datasets, d)
	}
	return datasets, nil
}

// Get returns a dataset by id
func (r *Registry) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	var row datasetRow
	err := r.store.DB().GetContext(ctx, &row, `SELECT `+selectColumns+` FROM datasets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("dataset %d not found", id)
	}
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to get dataset %d", id)
	}

	d, err := row.toModel()
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "corrupt catalog entry")
	}
	return d, nil
}
