package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

func TestBuildCapabilitySet_BaseTier(t *testing.T) {
	billing := config.DefaultBilling()

	tests := []struct {
		name         string
		snap         models.BillingSnapshot
		wantLimit    int
		wantAnalytic string
		wantHas      []models.Feature
		wantHasNot   []models.Feature
	}{
		{
			name:         "тариф 1",
			snap:         models.BillingSnapshot{TierLevel: 1},
			wantLimit:    15,
			wantAnalytic: "basic",
			wantHas:      []models.Feature{models.FeatureAnalyticsBasic, models.FeatureExportPDF},
			wantHasNot:   []models.Feature{models.FeatureExportCSV, models.FeatureAIGeneration},
		},
		{
			name:         "тариф 3",
			snap:         models.BillingSnapshot{TierLevel: 3},
			wantLimit:    200,
			wantAnalytic: "full",
			wantHas: []models.Feature{
				models.FeatureAnalyticsFull, models.FeatureExportXLSX, models.FeatureCustomBranding,
			},
			wantHasNot: []models.Feature{models.FeatureAIGeneration},
		},
		{
			name:         "без тарифа возможностей нет",
			snap:         models.BillingSnapshot{},
			wantLimit:    0,
			wantAnalytic: "",
			wantHasNot:   []models.Feature{models.FeatureAnalyticsBasic, models.FeatureExportPDF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := BuildCapabilitySet(tt.snap, billing)
			assert.Equal(t, tt.wantLimit, cs.CustomerLimit)
			assert.Equal(t, tt.wantAnalytic, cs.AnalyticsLevel)
			for _, f := range tt.wantHas {
				assert.True(t, cs.Has(f), "feature %s expected", f)
			}
			for _, f := range tt.wantHasNot {
				assert.False(t, cs.Has(f), "feature %s not expected", f)
			}
		})
	}
}

func TestBuildCapabilitySet_AddonStatuses(t *testing.T) {
	billing := config.DefaultBilling()
	base := models.BillingSnapshot{TierLevel: 2, AddonTier: 1}

	entitled := []string{models.StatusActive, models.StatusTrialing}
	for _, st := range entitled {
		base.AddonStatus = st
		cs := BuildCapabilitySet(base, billing)
		require.True(t, cs.Has(models.FeatureAIGeneration), "status %s", st)
		require.NotNil(t, cs.AIGenerationLimit)
		assert.Equal(t, 50, *cs.AIGenerationLimit)
	}

	notEntitled := []string{
		models.StatusPastDue, models.StatusSuspended, models.StatusCanceled,
		models.StatusIncomplete, models.StatusIncompleteExpired, models.StatusUnpaid,
	}
	for _, st := range notEntitled {
		base.AddonStatus = st
		cs := BuildCapabilitySet(base, billing)
		assert.False(t, cs.Has(models.FeatureAIGeneration), "status %s", st)
		// Базовые возможности тарифа не страдают от статуса дополнения.
		assert.True(t, cs.Has(models.FeatureExportCSV), "status %s", st)
		assert.Equal(t, 50, cs.CustomerLimit)
	}
}

func TestBuildCapabilitySet_UnlimitedAddon(t *testing.T) {
	billing := config.DefaultBilling()
	cs := BuildCapabilitySet(models.BillingSnapshot{
		TierLevel: 1, AddonTier: 3, AddonStatus: models.StatusActive,
	}, billing)

	require.True(t, cs.Has(models.FeatureAIGeneration))
	assert.Nil(t, cs.AIGenerationLimit)
}

func TestBuildCapabilitySet_StableFeatureOrder(t *testing.T) {
	billing := config.DefaultBilling()
	snap := models.BillingSnapshot{TierLevel: 3, AddonTier: 1, AddonStatus: models.StatusActive}

	// Набор сериализуется одинаково между вызовами: свежевычисленный и
	// закешированный ответы не расходятся порядком функций.
	first := BuildCapabilitySet(snap, billing)
	assert.Equal(t, []models.Feature{
		models.FeatureAIGeneration,
		models.FeatureAnalyticsAdvanced,
		models.FeatureAnalyticsBasic,
		models.FeatureAnalyticsFull,
		models.FeatureCustomBranding,
		models.FeatureExportCSV,
		models.FeatureExportPDF,
		models.FeatureExportXLSX,
	}, first.Features)
	for range 10 {
		assert.Equal(t, first.Features, BuildCapabilitySet(snap, billing).Features)
	}
}

func TestMeteredLimit(t *testing.T) {
	billing := config.DefaultBilling()

	limit, ok := MeteredLimit(models.FeatureAIGeneration, models.BillingSnapshot{
		TierLevel: 1, AddonTier: 2, AddonStatus: models.StatusActive,
	}, billing)
	require.True(t, ok)
	require.NotNil(t, limit)
	assert.Equal(t, 200, *limit)

	// Не-entitled статус дополнения закрывает метрируемую функцию.
	_, ok = MeteredLimit(models.FeatureAIGeneration, models.BillingSnapshot{
		TierLevel: 1, AddonTier: 2, AddonStatus: models.StatusPastDue,
	}, billing)
	assert.False(t, ok)

	// Булева функция не метрируется.
	_, ok = MeteredLimit(models.FeatureExportCSV, models.BillingSnapshot{TierLevel: 2}, billing)
	assert.False(t, ok)
}
