package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

func TestStorage_ConsumeMetered(t *testing.T) {
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	limit := 3

	tests := []struct {
		name        string
		addonStatus string
		limit       *int
		preCount    int
		amount      int
		wantAllowed bool
		wantCount   int
	}{
		{
			name:        "allowed under limit",
			addonStatus: models.StatusActive,
			limit:       &limit,
			preCount:    0,
			amount:      1,
			wantAllowed: true,
			wantCount:   1,
		},
		{
			name:        "allowed exactly at limit",
			addonStatus: models.StatusActive,
			limit:       &limit,
			preCount:    2,
			amount:      1,
			wantAllowed: true,
			wantCount:   3,
		},
		{
			name:        "denied over limit",
			addonStatus: models.StatusActive,
			limit:       &limit,
			preCount:    3,
			amount:      1,
			wantAllowed: false,
			wantCount:   3,
		},
		{
			name:        "unlimited quota",
			addonStatus: models.StatusTrialing,
			limit:       nil,
			preCount:    100,
			amount:      5,
			wantAllowed: true,
			wantCount:   105,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			uid := factory.CreateTenant(t, "testuser")
			factory.CreateAddonSubscription(t, uid, tt.addonStatus, 1, 4900, tt.limit, anchor, anchor.AddDate(0, 1, 0))
			if tt.preCount > 0 {
				_, err := storage.DB.Exec(`INSERT INTO usage_counters (tenant_uid, feature, period, count, limit_value)
					VALUES ($1, 'ai_generation', '2024-01-15', $2, $3)`,
					uid, tt.preCount, intPtrToNull(tt.limit))
				require.NoError(t, err)
			}

			out, err := storage.ConsumeMetered(context.Background(), uid, "ai_generation", "2024-01-15",
				tt.amount, entitledWithLimit(tt.limit))
			require.NoError(t, err)
			require.True(t, out.Entitled)
			assert.Equal(t, tt.wantAllowed, out.Allowed)
			assert.Equal(t, tt.wantCount, out.NewCount)

			verification := NewTestVerification(storage)
			verification.VerifyCounterValue(t, uid, "ai_generation", "2024-01-15", tt.wantCount)
		})
	}
}

func TestStorage_ConsumeMetered_NotEntitled(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusCanceled, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))

	out, err := storage.ConsumeMetered(context.Background(), uid, "ai_generation", "2024-01-15",
		1, entitledWithLimit(nil))
	require.NoError(t, err)
	assert.False(t, out.Entitled)
	assert.False(t, out.Allowed)

	// Счётчик даже не заводится: отказ по праву доступа не трогает использование.
	var count int
	err = storage.DB.QueryRow(`SELECT COUNT(*) FROM usage_counters WHERE tenant_uid = $1`, uid).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// Свойство атомарности: при N конкурирующих потреблениях против квоты M
// проходит ровно M, итоговый счётчик равен M и никогда не превышает лимит.
func TestStorage_ConsumeMetered_Concurrent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	limit := 10
	goroutines := 20

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusActive, 2, 9900, &limit, anchor, anchor.AddDate(0, 1, 0))

	var wg sync.WaitGroup
	results := make(chan bool, goroutines)
	errs := make(chan error, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := storage.ConsumeMetered(context.Background(), uid, "ai_generation", "2024-01-15",
				1, entitledWithLimit(&limit))
			if err != nil {
				errs <- err
				return
			}
			results <- out.Allowed
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	assert.Equal(t, limit, allowed)

	verification := NewTestVerification(storage)
	verification.VerifyCounterValue(t, uid, "ai_generation", "2024-01-15", limit)
}

func TestStorage_GetUsageCounter(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")

	_, err := storage.GetUsageCounter(context.Background(), uid, "ai_generation", "2024-01-15")
	require.ErrorIs(t, err, models.ErrNotFound)

	limit := 50
	_, err = storage.DB.Exec(`INSERT INTO usage_counters (tenant_uid, feature, period, count, limit_value)
		VALUES ($1, 'ai_generation', '2024-01-15', 7, $2)`, uid, limit)
	require.NoError(t, err)

	counter, err := storage.GetUsageCounter(context.Background(), uid, "ai_generation", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 7, counter.Count)
	require.NotNil(t, counter.Limit)
	assert.Equal(t, limit, *counter.Limit)
}
