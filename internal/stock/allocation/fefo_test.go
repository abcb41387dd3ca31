package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
)

func lot(id string, expiry, manufactured time.Time, current, reserved int) *repository.Lot {
	return &repository.Lot{
		ID:               id,
		ProductID:        "prod-1",
		LotNumber:        "LOT-" + id,
		ExpiryDate:       expiry,
		ManufactureDate:  manufactured,
		InitialQuantity:  current,
		CurrentQuantity:  current,
		ReservedQuantity: reserved,
		IsActive:         true,
	}
}

func TestBuildPrefersSoonestExpiry(t *testing.T) {
	now := time.Now()
	made := now.AddDate(0, -6, 0)

	lots := []*repository.Lot{
		lot("b", now.AddDate(0, 6, 0), made, 50, 0),
		lot("a", now.AddDate(0, 1, 0), made, 10, 0),
		lot("c", now.AddDate(1, 0, 0), made, 100, 0),
	}

	plan := Build("prod-1", 30, lots)

	require.True(t, plan.Satisfiable())
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "a", plan.Lines[0].LotID)
	assert.Equal(t, 10, plan.Lines[0].Quantity)
	assert.Equal(t, "b", plan.Lines[1].LotID)
	assert.Equal(t, 20, plan.Lines[1].Quantity)
	assert.Equal(t, 30, plan.Allocated)
	assert.Equal(t, 0, plan.Unmet)
}

func TestBuildTieBreaks(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 3, 0)

	t.Run("older manufacture wins on equal expiry", func(t *testing.T) {
		lots := []*repository.Lot{
			lot("young", expiry, now.AddDate(0, -1, 0), 10, 0),
			lot("old", expiry, now.AddDate(0, -9, 0), 10, 0),
		}

		plan := Build("prod-1", 5, lots)

		require.Len(t, plan.Lines, 1)
		assert.Equal(t, "old", plan.Lines[0].LotID)
	})

	t.Run("lot id breaks full ties deterministically", func(t *testing.T) {
		made := now.AddDate(0, -4, 0)
		lots := []*repository.Lot{
			lot("bbb", expiry, made, 10, 0),
			lot("aaa", expiry, made, 10, 0),
		}

		plan := Build("prod-1", 15, lots)

		require.Len(t, plan.Lines, 2)
		assert.Equal(t, "aaa", plan.Lines[0].LotID)
		assert.Equal(t, "bbb", plan.Lines[1].LotID)
	})
}

func TestBuildSkipsUnusableLots(t *testing.T) {
	now := time.Now()
	made := now.AddDate(0, -6, 0)

	inactive := lot("inactive", now.AddDate(0, 1, 0), made, 100, 0)
	inactive.IsActive = false

	lots := []*repository.Lot{
		inactive,
		lot("fully-reserved", now.AddDate(0, 2, 0), made, 20, 20),
		lot("usable", now.AddDate(0, 3, 0), made, 30, 10),
	}

	plan := Build("prod-1", 20, lots)

	require.True(t, plan.Satisfiable())
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "usable", plan.Lines[0].LotID)
	assert.Equal(t, 20, plan.Lines[0].Quantity)
}

func TestBuildCountsReservedAsUnavailable(t *testing.T) {
	now := time.Now()
	made := now.AddDate(0, -6, 0)

	lots := []*repository.Lot{
		lot("a", now.AddDate(0, 1, 0), made, 50, 45),
	}

	plan := Build("prod-1", 10, lots)

	assert.False(t, plan.Satisfiable())
	assert.Equal(t, 5, plan.Allocated)
	assert.Equal(t, 5, plan.Unmet)
}

func TestBuildReportsShortage(t *testing.T) {
	now := time.Now()
	made := now.AddDate(0, -6, 0)

	lots := []*repository.Lot{
		lot("a", now.AddDate(0, 1, 0), made, 10, 0),
		lot("b", now.AddDate(0, 2, 0), made, 15, 0),
	}

	plan := Build("prod-1", 40, lots)

	assert.False(t, plan.Satisfiable())
	assert.Equal(t, 25, plan.Allocated)
	assert.Equal(t, 15, plan.Unmet)
	require.Len(t, plan.Lines, 2)
	// Partial plans still drain in FEFO order.
	assert.Equal(t, "a", plan.Lines[0].LotID)
	assert.Equal(t, 10, plan.Lines[0].Quantity)
	assert.Equal(t, "b", plan.Lines[1].LotID)
	assert.Equal(t, 15, plan.Lines[1].Quantity)
}

func TestBuildEdgeCases(t *testing.T) {
	now := time.Now()

	t.Run("no lots", func(t *testing.T) {
		plan := Build("prod-1", 10, nil)

		assert.Equal(t, 10, plan.Unmet)
		assert.Empty(t, plan.Lines)
	})

	t.Run("zero requested", func(t *testing.T) {
		lots := []*repository.Lot{
			lot("a", now.AddDate(0, 1, 0), now.AddDate(0, -6, 0), 10, 0),
		}

		plan := Build("prod-1", 0, lots)

		assert.True(t, plan.Satisfiable())
		assert.Empty(t, plan.Lines)
	})

	t.Run("exact fit stops at first lot", func(t *testing.T) {
		lots := []*repository.Lot{
			lot("a", now.AddDate(0, 1, 0), now.AddDate(0, -6, 0), 10, 0),
			lot("b", now.AddDate(0, 2, 0), now.AddDate(0, -6, 0), 10, 0),
		}

		plan := Build("prod-1", 10, lots)

		require.Len(t, plan.Lines, 1)
		assert.Equal(t, "a", plan.Lines[0].LotID)
	})
}
