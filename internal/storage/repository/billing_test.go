package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

func TestStorage_GetBillingSnapshot(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	limit := 100

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateTierOwnership(t, uid, 2, 14900)
	factory.CreateAddonSubscription(t, uid, models.StatusActive, 1, 4900, &limit, anchor, anchor.AddDate(0, 1, 0))

	snap, err := storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, uid, snap.TenantUID)
	assert.Equal(t, 2, snap.TierLevel)
	assert.Equal(t, 1, snap.AddonTier)
	assert.Equal(t, models.StatusActive, snap.AddonStatus)
	require.NotNil(t, snap.AddonLimit)
	assert.Equal(t, limit, *snap.AddonLimit)
	assert.Nil(t, snap.PendingTier)
	assert.False(t, snap.Suspended)

	// Арендатор без покупок: срез нулевой, но не ошибка.
	bare := factory.CreateTenant(t, "baretenant")
	snap, err = storage.GetBillingSnapshot(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TierLevel)
	assert.Equal(t, 0, snap.AddonTier)
	assert.Equal(t, "", snap.AddonStatus)

	_, err = storage.GetBillingSnapshot(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_UpsertTierOwnership(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	err := storage.UpsertTierOwnership(context.Background(), uid, 2, 14900, at)
	require.NoError(t, err)

	ownership, err := storage.GetTierOwnership(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 2, ownership.TierLevel)
	assert.Equal(t, int64(14900), ownership.AmountPaid)

	// Повышение: уровень растёт, суммы накапливаются.
	err = storage.UpsertTierOwnership(context.Background(), uid, 3, 10000, at.AddDate(0, 1, 0))
	require.NoError(t, err)

	ownership, err = storage.GetTierOwnership(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 3, ownership.TierLevel)
	assert.Equal(t, int64(24900), ownership.AmountPaid)

	// Запоздавшее событие более низкого уровня не понижает владение.
	err = storage.UpsertTierOwnership(context.Background(), uid, 1, 4900, at.AddDate(0, 2, 0))
	require.NoError(t, err)

	ownership, err = storage.GetTierOwnership(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 3, ownership.TierLevel)
	assert.Equal(t, int64(29800), ownership.AmountPaid)
}

func TestStorage_CreateAddonSubscription(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	limit := 100

	sub := models.AddonSubscription{
		TenantUID:    uid,
		AddonTier:    1,
		MonthlyPrice: 4900,
		UsageLimit:   &limit,
		Status:       models.StatusIncomplete,
		AnchorDate:   anchor,
		NextChargeAt: anchor.AddDate(0, 1, 0),
	}
	created, err := storage.CreateAddonSubscription(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, created)

	// Вторая подписка того же арендатора не создаётся.
	created, err = storage.CreateAddonSubscription(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStorage_AddonTransitions(t *testing.T) {
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	suspendAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		fromStatus  string
		transition  func(s *Storage, uid string) (bool, error)
		wantApplied bool
		wantStatus  string
	}{
		{
			name:       "activate incomplete",
			fromStatus: models.StatusIncomplete,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.ActivateIncomplete(context.Background(), uid)
			},
			wantApplied: true,
			wantStatus:  models.StatusActive,
		},
		{
			name:       "activate is idempotent once active",
			fromStatus: models.StatusActive,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.ActivateIncomplete(context.Background(), uid)
			},
			wantApplied: false,
			wantStatus:  models.StatusActive,
		},
		{
			name:       "mark past due from active",
			fromStatus: models.StatusActive,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.MarkPastDueWithRetries(context.Background(), uid, suspendAt, []int{3, 7, 14})
			},
			wantApplied: true,
			wantStatus:  models.StatusPastDue,
		},
		{
			name:       "mark past due skips canceled",
			fromStatus: models.StatusCanceled,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.MarkPastDueWithRetries(context.Background(), uid, suspendAt, []int{3, 7, 14})
			},
			wantApplied: false,
			wantStatus:  models.StatusCanceled,
		},
		{
			name:       "recover past due",
			fromStatus: models.StatusPastDue,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.RecoverPastDue(context.Background(), uid)
			},
			wantApplied: true,
			wantStatus:  models.StatusActive,
		},
		{
			name:       "late success after cancel is dropped",
			fromStatus: models.StatusCanceled,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.RecoverPastDue(context.Background(), uid)
			},
			wantApplied: false,
			wantStatus:  models.StatusCanceled,
		},
		{
			name:       "suspend and cancel from past due",
			fromStatus: models.StatusPastDue,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.SuspendAndCancel(context.Background(), uid, suspendAt)
			},
			wantApplied: true,
			wantStatus:  models.StatusCanceled,
		},
		{
			name:       "voluntary cancel from active",
			fromStatus: models.StatusActive,
			transition: func(s *Storage, uid string) (bool, error) {
				return s.CancelAddon(context.Background(), uid)
			},
			wantApplied: true,
			wantStatus:  models.StatusCanceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			uid := factory.CreateTenant(t, "testuser")
			factory.CreateAddonSubscription(t, uid, tt.fromStatus, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))

			applied, err := tt.transition(storage, uid)
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)

			verification := NewTestVerification(storage)
			verification.VerifyAddonStatus(t, uid, tt.wantStatus)

			// Повторное применение того же перехода — всегда no-op.
			if tt.wantApplied {
				applied, err = tt.transition(storage, uid)
				require.NoError(t, err)
				assert.False(t, applied)
				verification.VerifyAddonStatus(t, uid, tt.wantStatus)
			}
		})
	}
}

func TestStorage_SuspendAndCancel_SetsSuspendedAt(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	suspendAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusPastDue, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))

	applied, err := storage.SuspendAndCancel(context.Background(), uid, suspendAt)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.True(t, snap.Suspended)
	assert.Equal(t, models.StatusCanceled, snap.AddonStatus)
}

func TestStorage_ReactivateAddon(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusPastDue, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))
	applied, err := storage.SuspendAndCancel(context.Background(), uid, anchor.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.True(t, applied)

	newAnchor := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
	applied, err = storage.ReactivateAddon(context.Background(), uid, newAnchor, newAnchor.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, snap.AddonStatus)
	assert.False(t, snap.Suspended)
	require.NotNil(t, snap.AnchorDate)
	assert.True(t, snap.AnchorDate.Equal(newAnchor))

	// Реактивация активной подписки не проходит.
	applied, err = storage.ReactivateAddon(context.Background(), uid, newAnchor, newAnchor.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStorage_UpgradeAndDowngrade(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	nextCharge := anchor.AddDate(0, 1, 0)
	oldLimit := 100
	newLimit := 500

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusActive, 1, 4900, &oldLimit, anchor, nextCharge)

	// Повышение применяется немедленно.
	applied, err := storage.UpgradeAddon(context.Background(), uid, 2, 9900, &newLimit)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.AddonTier)
	require.NotNil(t, snap.AddonLimit)
	assert.Equal(t, newLimit, *snap.AddonLimit)

	// Понижение откладывается до границы цикла.
	applied, err = storage.SetPendingDowngrade(context.Background(), uid, 1)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err = storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.AddonTier)
	require.NotNil(t, snap.PendingTier)
	assert.Equal(t, 1, *snap.PendingTier)

	// До границы цикла понижение не отдаётся планировщику.
	pending, err := storage.FindPendingDowngrades(context.Background(), nextCharge.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = storage.FindPendingDowngrades(context.Background(), nextCharge)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uid, pending[0].TenantUID)
	assert.Equal(t, 1, pending[0].PendingTier)

	applied, err = storage.ApplyPendingDowngrade(context.Background(), uid, 1, 4900, &oldLimit)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err = storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.AddonTier)
	assert.Nil(t, snap.PendingTier)
	require.NotNil(t, snap.AddonLimit)
	assert.Equal(t, oldLimit, *snap.AddonLimit)
}

func TestStorage_ExpireIncomplete(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	stale := factory.CreateTenant(t, "staletenant")
	factory.CreateAddonSubscription(t, stale, models.StatusIncomplete, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))
	// Сдвигаем created_at в прошлое за пределы окна оплаты.
	_, err := storage.DB.Exec(`UPDATE addon_subscriptions SET created_at = now() - interval '2 days'
		WHERE tenant_uid = $1`, stale)
	require.NoError(t, err)

	fresh := factory.CreateTenant(t, "freshtenant")
	factory.CreateAddonSubscription(t, fresh, models.StatusIncomplete, 1, 4900, nil, anchor, anchor.AddDate(0, 1, 0))

	uids, err := storage.ExpireIncomplete(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, uids, 1)
	assert.Equal(t, stale, uids[0])

	verification := NewTestVerification(storage)
	verification.VerifyAddonStatus(t, stale, models.StatusIncompleteExpired)
	verification.VerifyAddonStatus(t, fresh, models.StatusIncomplete)
}

func TestStorage_FindDueRecurringAndAdvance(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusActive, 1, 4900, nil, anchor, due)

	charges, err := storage.FindDueRecurring(context.Background(), due)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, uid, charges[0].TenantUID)
	assert.Equal(t, int64(4900), charges[0].Amount)

	// Продвижение срока — compare-and-update: второй планировщик с тем же
	// сроком продвинет его только один раз.
	next := due.AddDate(0, 1, 0)
	advanced, err := storage.AdvanceNextCharge(context.Background(), uid, due, next)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = storage.AdvanceNextCharge(context.Background(), uid, due, next)
	require.NoError(t, err)
	assert.False(t, advanced)

	charges, err = storage.FindDueRecurring(context.Background(), due)
	require.NoError(t, err)
	assert.Empty(t, charges)
}

// Списание на границе цикла и отложенное понижение применяются одним
// обновлением: граница не может пройти по старой цене, оставив понижение
// висеть до следующего цикла.
func TestStorage_AdvanceNextChargeWithDowngrade(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	oldLimit := 200
	newLimit := 50

	uid := factory.CreateTenant(t, "testuser")
	factory.CreateAddonSubscription(t, uid, models.StatusActive, 2, 4900, &oldLimit, anchor, due)
	applied, err := storage.SetPendingDowngrade(context.Background(), uid, 1)
	require.NoError(t, err)
	require.True(t, applied)

	// Планировщик видит наступившую границу вместе с отложенным понижением.
	charges, err := storage.FindDueRecurring(context.Background(), due)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.NotNil(t, charges[0].PendingTier)
	assert.Equal(t, 1, *charges[0].PendingTier)

	next := due.AddDate(0, 1, 0)
	won, err := storage.AdvanceNextChargeWithDowngrade(context.Background(), uid, due, next, 1, 1900, &newLimit)
	require.NoError(t, err)
	require.True(t, won)

	snap, err := storage.GetBillingSnapshot(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.AddonTier)
	assert.Nil(t, snap.PendingTier)
	require.NotNil(t, snap.AddonLimit)
	assert.Equal(t, newLimit, *snap.AddonLimit)

	// Граница продвинута: подписка выпала из наступивших, понижение исчерпано.
	charges, err = storage.FindDueRecurring(context.Background(), due)
	require.NoError(t, err)
	assert.Empty(t, charges)

	// Конкурент с тем же сроком проигрывает compare-and-update.
	won, err = storage.AdvanceNextChargeWithDowngrade(context.Background(), uid, due, next, 1, 1900, &newLimit)
	require.NoError(t, err)
	assert.False(t, won)

	// Уже применённое rollover'ом понижение сюда тоже не проходит:
	// pending_tier пуст, обычное продвижение срока остаётся за AdvanceNextCharge.
	won, err = storage.AdvanceNextChargeWithDowngrade(context.Background(), uid, next, next.AddDate(0, 1, 0), 1, 1900, &newLimit)
	require.NoError(t, err)
	assert.False(t, won)

	advanced, err := storage.AdvanceNextCharge(context.Background(), uid, next, next.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, advanced)
}
