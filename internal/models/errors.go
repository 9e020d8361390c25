package models

import "errors"

// Таксономия ошибок движка. Отказы по возможностям и квотам — восстановимые
// и показываются пользователю; нарушение изоляции всегда фатально для
// запроса; сбои хранилища при проверках использования закрывают доступ.
var (
	// ErrTierInsufficient — функция отсутствует в наборе возможностей тарифа.
	ErrTierInsufficient = errors.New("tier insufficient for requested feature")

	// ErrUsageLimitExceeded — метрируемая функция упёрлась в квоту периода.
	ErrUsageLimitExceeded = errors.New("usage limit exceeded")

	// ErrTenantContextMissing — запрос пришёл без разрешённого контекста
	// арендатора; никакого режима "все арендаторы" по умолчанию нет.
	ErrTenantContextMissing = errors.New("tenant context missing")

	// ErrDuplicateEvent — повторная доставка уже применённого события.
	// Для вызывающего это не ошибка: повтор безвреден.
	ErrDuplicateEvent = errors.New("duplicate payment event")

	// ErrConflictingPaymentOutcome — два окончательных исхода одной попытки
	// списания. Логируется и отдаётся на ручной разбор, не применяется.
	ErrConflictingPaymentOutcome = errors.New("conflicting payment outcome for attempt")

	// ErrTransientStoreFailure — хранилище недоступно; метрируемые проверки
	// при этом отказывают (fail closed), биллинговые переходы повторяются.
	ErrTransientStoreFailure = errors.New("transient store failure")

	// ErrInvalidTransition — переход запрещён из текущего состояния.
	ErrInvalidTransition = errors.New("invalid billing state transition")

	// ErrNotFound — запись не найдена в хранилище.
	ErrNotFound = errors.New("not found")
)
