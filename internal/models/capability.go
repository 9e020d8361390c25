package models

// Feature — закрытое перечисление идентификаторов функций продукта.
// Соответствие функции тарифу/дополнению задаётся таблицей в пакете
// entitlement, а не строками по месту вызова.
type Feature string

// Перечень функций.
const (
	FeatureAIGeneration      Feature = "ai_generation"
	FeatureAnalyticsBasic    Feature = "analytics_basic"
	FeatureAnalyticsAdvanced Feature = "analytics_advanced"
	FeatureAnalyticsFull     Feature = "analytics_full"
	FeatureExportPDF         Feature = "export_pdf"
	FeatureExportCSV         Feature = "export_csv"
	FeatureExportXLSX        Feature = "export_xlsx"
	FeatureCustomBranding    Feature = "custom_branding"
)

// CapabilitySet — вычисленный набор возможностей арендатора на текущий момент:
// базовые лимиты тарифа плюс квота дополнения, если его статус даёт права.
type CapabilitySet struct {
	TierLevel         int       `json:"tier_level"`
	CustomerLimit     int       `json:"customer_limit"`
	RecipeCatalogSize int       `json:"recipe_catalog_size"`
	MealTypes         int       `json:"meal_types"`
	AnalyticsLevel    string    `json:"analytics_level"`
	ExportFormats     []string  `json:"export_formats"`
	Features          []Feature `json:"features"`
	AddonStatus       string    `json:"addon_status,omitempty"`
	Suspended         bool      `json:"suspended,omitempty"`
	// AIGenerationLimit — месячная квота генераций, nil = безлимит.
	// Поле имеет смысл только когда FeatureAIGeneration присутствует в Features.
	AIGenerationLimit *int `json:"ai_generation_limit,omitempty"`
}

// Has сообщает, присутствует ли функция в наборе возможностей.
func (cs CapabilitySet) Has(f Feature) bool {
	for _, have := range cs.Features {
		if have == f {
			return true
		}
	}
	return false
}

// ConsumeResult — результат метрируемой проверки: решение, новый счётчик,
// остаток квоты и рекомендательный уровень предупреждения (80/90/95%).
type ConsumeResult struct {
	Allowed      bool   `json:"allowed"`
	NewCount     int    `json:"new_count"`
	Remaining    *int   `json:"remaining,omitempty"` // nil = безлимит
	WarningLevel string `json:"warning_level,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// DummyConsume используется для приёма запроса на потребление функции из JSON.
type DummyConsume struct {
	Feature string `json:"feature" validate:"required"`
	Amount  int    `json:"amount,omitempty" validate:"omitempty,gt=0"`
}
