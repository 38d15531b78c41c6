package billing

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogResolveOrder(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	byKey, err := e.svc.Catalog.Resolve(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", byKey.PlanKey)

	byName, err := e.svc.Catalog.Resolve(ctx, "Business")
	require.NoError(t, err)
	assert.Equal(t, "business", byName.PlanKey)

	byID, err := e.svc.Catalog.Resolve(ctx, strconv.FormatUint(uint64(byKey.ID), 10))
	require.NoError(t, err)
	assert.Equal(t, "pro", byID.PlanKey)

	_, err = e.svc.Catalog.Resolve(ctx, "platinum")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = e.svc.Catalog.Resolve(ctx, "  ")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCatalogListActive(t *testing.T) {
	e := newTestEnv(t)

	plans, err := e.svc.Catalog.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "free", plans[0].PlanKey)
}
