// Package repository реализует хранилище движка на PostgreSQL: арендаторы,
// владение тарифом, подписка на дополнение, счётчики использования, журнал
// платежей и аудита, запланированные повторные списания, группы клиентов.
//
// Каждый метод принимает uid арендатора и фильтрует строки по нему —
// это и есть слой изоляции: другого пути к данным арендатора нет.
// Атомарность обеспечивается условными одно-строчными обновлениями и
// блокировкой строки арендатора, поэтому корректность сохраняется при
// нескольких экземплярах сервиса.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'addon_subscriptions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table addon_subscriptions missing or query error: %w", err)
	}
	return nil
}

// withTenantLock выполняет fn в транзакции, предварительно взяв блокировку
// строки арендатора. Все биллинговые переходы и метрируемые проверки одного
// арендатора сериализуются через эту блокировку: гонка реактивации с
// автоматической повторной попыткой исключена на уровне базы.
func (s *Storage) withTenantLock(ctx context.Context, tenantUID string, fn func(tx *sql.Tx) error) error {
	const op = "storage.withTenantLock"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var uid string
	err = tx.QueryRowContext(ctx, `SELECT uid FROM tenants WHERE uid = $1 FOR UPDATE`, tenantUID).Scan(&uid)
	if err != nil {
		return fmt.Errorf("%s: lock tenant: %w", op, err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
