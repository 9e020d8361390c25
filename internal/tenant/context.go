// Package tenant определяет контекст изоляции арендатора. Контекст собирается
// ровно один раз на запрос из аутентифицированной сессии; любое обращение
// к данным без него отклоняется — режима "все арендаторы" по умолчанию нет.
package tenant

import (
	"context"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

// Context — проверенный контекст арендатора на время одного запроса.
type Context struct {
	UID      string
	Username string
	Role     string
}

type ctxKey struct{}

// Into кладёт контекст арендатора в context.Context запроса.
func Into(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext извлекает контекст арендатора. Отсутствующий или пустой
// контекст — это ErrTenantContextMissing: вызов закрывается, а не
// подставляет какой-либо вид по умолчанию.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	if !ok || tc.UID == "" {
		return Context{}, models.ErrTenantContextMissing
	}
	return tc, nil
}
