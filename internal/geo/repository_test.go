package geo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_checkout/internal/geo"
)

func setupTestDB(t *testing.T) *geo.Repository {
	repo, err := geo.NewRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations("./migrations"))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestFind_SeededReferences(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	country, err := repo.FindCountry(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, country)
	assert.Equal(t, "Nigeria", country.Name)
	assert.Equal(t, "NG", country.Code)

	state, err := repo.FindState(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "Lagos", state.Name)

	city, err := repo.FindCity(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, city)
	assert.Equal(t, "Port Harcourt", city.Name)
}

func TestFind_MissingIsNil(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	country, err := repo.FindCountry(ctx, 999)
	assert.NoError(t, err)
	assert.Nil(t, country)

	city, err := repo.FindCity(ctx, 999)
	assert.NoError(t, err)
	assert.Nil(t, city)
}

func TestFind_CancelledContext(t *testing.T) {
	repo := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	_, err := repo.FindState(ctx, 1)
	assert.Error(t, err)
}
