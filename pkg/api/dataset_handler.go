package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mimir-aip/mimir-insight/pkg/ingest"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/parser"
	"github.com/mimir-aip/mimir-insight/pkg/query"
	"github.com/mimir-aip/mimir-insight/pkg/registry"
)

const (
	// Longest accepted value of the "name" field
	maxNameBytes = 1 << 10
	// Room for multipart framing on top of the upload limit
	multipartOverhead = 1 << 20
	maxQueryBodyBytes = 1 << 20
	defaultPageSize   = 100
)

// DatasetHandler handles dataset upload, catalog and query requests
type DatasetHandler struct {
	ingest         *ingest.Service
	registry       *registry.Registry
	query          *query.Engine
	maxUploadBytes int64
	logger         *logging.Logger
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(in *ingest.Service, reg *registry.Registry, q *query.Engine, maxUploadBytes int64, logger *logging.Logger) *DatasetHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = parser.DefaultMaxBytes
	}
	return &DatasetHandler{
		ingest:         in,
		registry:       reg,
		query:          q,
		maxUploadBytes: maxUploadBytes,
		logger:         logging.OrDefault(logger),
	}
}

// Upload handles POST /api/datasets/upload. The multipart body is streamed part by
// part, so the file name is checked before any of the file content is read.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUploadBytes + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, h.tooLarge())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, models.WrapError(err, models.ErrorKindValidation, "invalid multipart form"))
		return
	}

	var (
		name     string
		filename string
		size     int64
		table    *parser.Table
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, h.uploadError(err))
			return
		}

		switch part.FormName() {
		case "name":
			value, err := io.ReadAll(io.LimitReader(part, maxNameBytes))
			if err != nil {
				part.Close()
				writeError(w, h.uploadError(err))
				return
			}
			name = string(value)
		case "file":
			if table != nil {
				part.Close()
				writeError(w, models.NewValidationError("only one file may be uploaded"))
				return
			}
			filename = part.FileName()
			body := &countingReader{r: part}
			table, err = h.ingest.ParseUpload(r.Context(), ingest.UploadRequest{Filename: filename, Body: body})
			if err != nil {
				part.Close()
				h.reject(w, r, filename, h.uploadError(err))
				return
			}
			size = body.n
		}
		part.Close()
	}
	if table == nil {
		writeError(w, models.NewValidationError("multipart field \"file\" is required"))
		return
	}

	result, err := h.ingest.IngestRows(r.Context(), ingest.Meta{
		Name:     name,
		Filename: filename,
		Size:     size,
	}, table.Columns, table.Rows)
	if err != nil {
		h.reject(w, r, filename, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, result)
}

func (h *DatasetHandler) reject(w http.ResponseWriter, r *http.Request, filename string, err error) {
	h.logger.Warn("Upload rejected",
		logging.Component("api"),
		logging.String("filename", filename),
		logging.RequestID(RequestIDFromContext(r.Context())),
		logging.Error(err))
	writeError(w, err)
}

func (h *DatasetHandler) tooLarge() error {
	return models.NewParseError("file exceeds the %d byte limit", h.maxUploadBytes)
}

// uploadError reports a body over the size limit as a parse error and keeps the kind of
// already categorized errors
func (h *DatasetHandler) uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return h.tooLarge()
	}
	if models.KindOf(err) != "" {
		return err
	}
	return models.WrapError(err, models.ErrorKindValidation, "invalid multipart form")
}

// countingReader records how many bytes were read through it
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// List handles GET /api/datasets
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, datasets)
}

// Get handles GET /api/datasets/{id}
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := datasetID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dataset, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, dataset)
}

// Rows handles GET /api/datasets/{id}/rows
func (h *DatasetHandler) Rows(w http.ResponseWriter, r *http.Request) {
	id, err := datasetID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := parseIntParam(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := h.query.Page(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, rows)
}

// Query handles POST /api/datasets/{id}/query
func (h *DatasetHandler) Query(w http.ResponseWriter, r *http.Request) {
	id, err := datasetID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req models.AggregationRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, models.WrapError(err, models.ErrorKindValidation, "invalid request body"))
		return
	}
	req.DatasetID = id

	rows, err := h.query.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, rows)
}

func datasetID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError("invalid dataset id %q", raw)
	}
	return id, nil
}
