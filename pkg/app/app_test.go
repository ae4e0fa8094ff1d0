package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-insight/pkg/config"
	"github.com/mimir-aip/mimir-insight/pkg/ingest"
	"github.com/mimir-aip/mimir-insight/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	return cfg
}

func TestNewCreatesDataDirAndWiresServices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = os.Stat(cfg.DatabasePath())
	require.NoError(t, err)

	result, err := a.Ingest.IngestFile(ctx, ingest.UploadRequest{
		Filename: "t.csv",
		Body:     strings.NewReader("k,v\na,1\nb,2\n"),
	})
	require.NoError(t, err)

	rows, err := a.Query.Execute(ctx, models.AggregationRequest{
		DatasetID: result.Dataset.ID,
		Aggregate: &models.Aggregate{Column: "v", Function: models.AggregateMax},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Row{{"value": 2.0}}, rows)
}

func TestNewRejectsBadJanitorSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Janitor.Schedule = "every now and then"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestDataPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	result, err := a.Ingest.IngestFile(ctx, ingest.UploadRequest{Filename: "p.csv", Body: strings.NewReader("x\n1\n")})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	d, err := b.Registry.Get(ctx, result.Dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", d.Name)
}
