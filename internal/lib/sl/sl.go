// Package sl содержит вспомогательные функции для структурированного
// логирования через slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Nil-ошибка логируется как "nil", чтобы не падать в обработчиках.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("nil")}
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Tenant возвращает slog.Attr с идентификатором арендатора —
// единый ключ для поиска по журналам.
func Tenant(uid string) slog.Attr {
	return slog.String("tenant_uid", uid)
}
