// Package entitlement содержит закрытую таблицу соответствия функций
// тарифам и дополнениям и чистое вычисление набора возможностей из
// биллингового среза. Никакого ввода-вывода здесь нет.
package entitlement

import (
	"sort"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Requirement описывает, что нужно арендатору для доступа к функции.
type Requirement struct {
	MinTier       int  // Минимальный уровень разового тарифа
	RequiresAddon bool // Функция даётся подпиской на дополнение, не тарифом
	Metered       bool // Проверяется через счётчик использования
}

// featureTable — единственная точка соответствия функция → требование.
// Новые функции добавляются сюда, а не строками по месту вызова.
var featureTable = map[models.Feature]Requirement{
	models.FeatureAnalyticsBasic:    {MinTier: 1},
	models.FeatureAnalyticsAdvanced: {MinTier: 2},
	models.FeatureAnalyticsFull:     {MinTier: 3},
	models.FeatureExportPDF:         {MinTier: 1},
	models.FeatureExportCSV:         {MinTier: 2},
	models.FeatureExportXLSX:        {MinTier: 3},
	models.FeatureCustomBranding:    {MinTier: 3},
	models.FeatureAIGeneration:      {RequiresAddon: true, Metered: true},
}

// Lookup возвращает требование для функции из закрытого перечисления.
func Lookup(f models.Feature) (Requirement, bool) {
	req, ok := featureTable[f]
	return req, ok
}

// tierCapability — базовые лимиты разового тарифного уровня.
type tierCapability struct {
	CustomerLimit     int
	RecipeCatalogSize int
	MealTypes         int
	AnalyticsLevel    string
	ExportFormats     []string
}

var tierCapabilities = map[int]tierCapability{
	1: {CustomerLimit: 15, RecipeCatalogSize: 50, MealTypes: 3, AnalyticsLevel: "basic", ExportFormats: []string{"pdf"}},
	2: {CustomerLimit: 50, RecipeCatalogSize: 200, MealTypes: 6, AnalyticsLevel: "advanced", ExportFormats: []string{"pdf", "csv"}},
	3: {CustomerLimit: 200, RecipeCatalogSize: 1000, MealTypes: 12, AnalyticsLevel: "full", ExportFormats: []string{"pdf", "csv", "xlsx"}},
}

// BuildCapabilitySet вычисляет набор возможностей из биллингового среза.
// База берётся из уровня тарифа; дополнение добавляет квоту генераций только
// в статусах active и trialing и никогда не влияет на базовые возможности.
func BuildCapabilitySet(snap models.BillingSnapshot, billing config.Billing) models.CapabilitySet {
	cs := models.CapabilitySet{
		TierLevel:   snap.TierLevel,
		AddonStatus: snap.AddonStatus,
		Suspended:   snap.Suspended,
	}

	if base, ok := tierCapabilities[snap.TierLevel]; ok {
		cs.CustomerLimit = base.CustomerLimit
		cs.RecipeCatalogSize = base.RecipeCatalogSize
		cs.MealTypes = base.MealTypes
		cs.AnalyticsLevel = base.AnalyticsLevel
		cs.ExportFormats = base.ExportFormats
	}

	for f, req := range featureTable {
		if req.RequiresAddon {
			continue
		}
		if snap.TierLevel >= req.MinTier && req.MinTier > 0 {
			cs.Features = append(cs.Features, f)
		}
	}

	if snap.AddonTier > 0 && models.IsEntitled(snap.AddonStatus) {
		cs.Features = append(cs.Features, models.FeatureAIGeneration)
		cs.AIGenerationLimit = billing.AddonLimit(snap.AddonTier)
	}

	// Порядок обхода map недетерминирован: без сортировки свежий и
	// закешированный наборы сериализуются по-разному.
	sort.Slice(cs.Features, func(i, j int) bool { return cs.Features[i] < cs.Features[j] })

	return cs
}

// MeteredLimit возвращает квоту метрируемой функции для среза: nil = безлимит,
// второй результат false — функция арендатору вообще не доступна.
func MeteredLimit(f models.Feature, snap models.BillingSnapshot, billing config.Billing) (*int, bool) {
	req, ok := featureTable[f]
	if !ok || !req.Metered {
		return nil, false
	}
	if req.RequiresAddon {
		if snap.AddonTier == 0 || !models.IsEntitled(snap.AddonStatus) {
			return nil, false
		}
		return billing.AddonLimit(snap.AddonTier), true
	}
	if snap.TierLevel < req.MinTier {
		return nil, false
	}
	return nil, true
}
