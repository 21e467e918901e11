package postgis

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "geo", Password: "secret", DBName: "geodb"}
	assert.Equal(t, "host=db port=5433 user=geo password=secret dbname=geodb sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

// TestProviderIntegration needs a PostGIS server; set VIEWCACHE_TEST_POSTGIS_HOST
func TestProviderIntegration(t *testing.T) {
	host := os.Getenv("VIEWCACHE_TEST_POSTGIS_HOST")
	if host == "" {
		t.Skip("VIEWCACHE_TEST_POSTGIS_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("VIEWCACHE_TEST_POSTGIS_PORT"))
	if port == 0 {
		port = 5432
	}
	ctx := context.Background()

	p, err := Open(ctx, Config{Host: host, Port: port, User: "postgres", Password: "postgres", DBName: "geodb"})
	require.NoError(t, err)
	defer p.Close()

	records := dataset.Generate(2000, 3, dataset.Benelux)
	require.NoError(t, p.InitSchema(ctx))
	require.NoError(t, p.BulkInsert(ctx, records))
	require.NoError(t, p.CreateSpatialIndex(ctx))

	count, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(records)), count)

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, all)

	box := models.NewBoundingBox(50, 3, 51.5, 5)
	within, err := p.Within(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, dataset.Filter(records, box), dataset.Filter(within, box))
}
