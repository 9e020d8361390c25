package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-engine/internal/models"
)

func TestStorage_InsertPaymentTransaction(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")

	tx := models.PaymentTransaction{
		TenantUID:   uid,
		Fingerprint: "fp-evt-1",
		AttemptID:   "attempt-1",
		Kind:        models.PaymentKindInitial,
		Outcome:     models.OutcomeSucceeded,
		Amount:      4900,
		Currency:    "RUB",
		Terminal:    true,
	}
	inserted, err := storage.InsertPaymentTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Повторная доставка того же события: отпечаток совпадает, вторая
	// строка не появляется.
	inserted, err = storage.InsertPaymentTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := storage.GetPaymentTransaction(context.Background(), "fp-evt-1")
	require.NoError(t, err)
	assert.Equal(t, uid, got.TenantUID)
	assert.Equal(t, models.TxPending, got.Status)
	assert.Equal(t, int64(4900), got.Amount)
	assert.True(t, got.Terminal)
}

func TestStorage_FinalizePaymentTransaction(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")

	tx := models.PaymentTransaction{
		TenantUID:   uid,
		Fingerprint: "fp-evt-2",
		AttemptID:   "attempt-2",
		Kind:        models.PaymentKindRecurring,
		Outcome:     models.OutcomeSucceeded,
		Amount:      4900,
		Currency:    "RUB",
		Terminal:    true,
	}
	inserted, err := storage.InsertPaymentTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, inserted)

	finalized, err := storage.FinalizePaymentTransaction(context.Background(), "fp-evt-2", models.TxCompleted)
	require.NoError(t, err)
	assert.True(t, finalized)

	// Строка финализируется ровно один раз.
	finalized, err = storage.FinalizePaymentTransaction(context.Background(), "fp-evt-2", models.TxCompleted)
	require.NoError(t, err)
	assert.False(t, finalized)

	verification := NewTestVerification(storage)
	verification.VerifyTransactionStatus(t, "fp-evt-2", models.TxCompleted)
}

func TestStorage_HasConflictingOutcome(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")

	inserted, err := storage.InsertPaymentTransaction(context.Background(), models.PaymentTransaction{
		TenantUID:   uid,
		Fingerprint: "fp-evt-3",
		AttemptID:   "attempt-3",
		Kind:        models.PaymentKindRecurring,
		Outcome:     models.OutcomeSucceeded,
		Amount:      4900,
		Currency:    "RUB",
		Terminal:    true,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	// Тот же исход для той же попытки конфликтом не считается.
	conflict, err := storage.HasConflictingOutcome(context.Background(), "attempt-3", models.OutcomeSucceeded)
	require.NoError(t, err)
	assert.False(t, conflict)

	// Противоположный исход после окончательного — конфликт.
	conflict, err = storage.HasConflictingOutcome(context.Background(), "attempt-3", models.OutcomeFailed)
	require.NoError(t, err)
	assert.True(t, conflict)

	// Неизвестная попытка конфликтовать не может.
	conflict, err = storage.HasConflictingOutcome(context.Background(), "attempt-unknown", models.OutcomeFailed)
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestStorage_ListPaymentTransactions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	owner := factory.CreateTenant(t, "owner")
	other := factory.CreateTenant(t, "other")

	for i, uid := range []string{owner, owner, other} {
		inserted, err := storage.InsertPaymentTransaction(context.Background(), models.PaymentTransaction{
			TenantUID:   uid,
			Fingerprint: string(rune('a'+i)) + "-fp",
			AttemptID:   "attempt",
			Kind:        models.PaymentKindRecurring,
			Outcome:     models.OutcomeSucceeded,
			Amount:      4900,
			Currency:    "RUB",
			Terminal:    true,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	// Журнал отдаёт только строки запрошенного арендатора.
	list, err := storage.ListPaymentTransactions(context.Background(), owner, 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, tx := range list {
		assert.Equal(t, owner, tx.TenantUID)
	}

	list, err = storage.ListPaymentTransactions(context.Background(), owner, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b-fp", list[0].Fingerprint)
}

func TestStorage_AuditEvents(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	uid := factory.CreateTenant(t, "testuser")

	err := storage.InsertAuditEvent(context.Background(), models.AuditEvent{
		TenantUID:   &uid,
		Kind:        "payment.applied",
		Fingerprint: "fp-evt-9",
		Payload:     `{"outcome":"succeeded"}`,
	})
	require.NoError(t, err)
	err = storage.InsertAuditEvent(context.Background(), models.AuditEvent{
		TenantUID:   &uid,
		Kind:        "payment.duplicate",
		Fingerprint: "fp-evt-9",
		Payload:     `{"outcome":"succeeded"}`,
	})
	require.NoError(t, err)

	events, err := storage.ListAuditEvents(context.Background(), uid, time.Time{}, 100, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "payment.applied", events[0].Kind)
	assert.Equal(t, "payment.duplicate", events[1].Kind)

	// Фильтр since отсекает старые записи.
	events, err = storage.ListAuditEvents(context.Background(), uid, time.Now().UTC().Add(time.Hour), 100, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	count, err := storage.CountAuditEventsByFingerprint(context.Background(), "fp-evt-9")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
