// Package webhook принимает уведомления платёжного шлюза. Шлюз доставляет
// события минимум один раз и в произвольном порядке, поэтому обработчик
// всегда отвечает 200 на повторы: дедупликацию выполняет журнал платежей.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
)

// Ingester проводит платёжное событие через журнал с дедупликацией.
type Ingester interface {
	Ingest(ctx context.Context, ev models.PaymentEvent) (*ledger.Result, error)
}

// Handler управляет приёмом webhook-ов шлюза.
type Handler struct {
	log           *slog.Logger
	ledger        Ingester
	webhookSecret string
	now           func() time.Time
}

// New создает новый Handler с переданными логгером, журналом и секретом подписи.
func New(log *slog.Logger, ledgerSvc Ingester, secret string) *Handler {
	return &Handler{log: log, ledger: ledgerSvc, webhookSecret: secret, now: time.Now}
}

// Payload — сырое тело уведомления шлюза.
type Payload struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Terminal   bool              `json:"terminal"`
		OccurredAt time.Time         `json:"occurred_at"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"object"`
}

// События шлюза, несущие исход платежа.
const (
	paymentSucceeded = "payment.succeeded"
	paymentCanceled  = "payment.canceled"
)

// Проверка подписи webhook (X-Api-Signature).
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ServeHTTP godoc
// @Summary Принять уведомление платёжного шлюза
// @Tags Payments
// @Accept json
// @Success 200
// @Failure 400 "Нечитаемое тело или неполные метаданные"
// @Failure 401 "Неверная подпись"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payments.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var outcome string
	switch strings.ToLower(payload.Event) {
	case paymentSucceeded:
		outcome = models.OutcomeSucceeded
	case paymentCanceled:
		outcome = models.OutcomeFailed
	default:
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := h.toEvent(payload, outcome)
	if err != nil {
		log.Error("malformed webhook payload", sl.Err(err),
			slog.String("payment_id", payload.Object.ID))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res, err := h.ledger.Ingest(r.Context(), *ev)
	if err != nil {
		if errors.Is(err, models.ErrConflictingPaymentOutcome) {
			// Осознанно отброшено, повторная доставка ничего не изменит.
			log.Warn("conflicting webhook outcome dropped", sl.Tenant(ev.TenantUID),
				slog.String("payment_id", payload.Object.ID))
			w.WriteHeader(http.StatusOK)
			return
		}
		log.Error("failed to ingest webhook event", sl.Err(err), sl.Tenant(ev.TenantUID))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed", slog.String("event", payload.Event),
		slog.String("payment_id", payload.Object.ID),
		slog.Bool("applied", res.Applied), slog.Bool("duplicate", res.Duplicate))
	w.WriteHeader(http.StatusOK)
}

// toEvent нормализует уведомление в платёжное событие. Метаданные платежа
// заполняются при создании списания, поэтому их отсутствие — признак
// чужого или испорченного уведомления.
func (h *Handler) toEvent(payload Payload, outcome string) (*models.PaymentEvent, error) {
	meta := payload.Object.Metadata
	tenantUID := meta["tenant_uid"]
	kind := meta["kind"]
	if payload.Object.ID == "" || tenantUID == "" || kind == "" {
		return nil, errors.New("missing payment id or metadata")
	}

	amount, err := paymentprovider.ParseAmount(payload.Object.Amount.Value)
	if err != nil {
		return nil, err
	}

	ev := &models.PaymentEvent{
		ExternalID: payload.Object.ID,
		TenantUID:  tenantUID,
		Kind:       kind,
		Outcome:    outcome,
		Terminal:   payload.Object.Terminal,
		AttemptID:  meta["attempt_id"],
		Amount:     amount,
		Currency:   payload.Object.Amount.Currency,
		OccurredAt: payload.Object.OccurredAt,
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	if raw := meta["attempt"]; raw != "" {
		if ev.Attempt, err = strconv.Atoi(raw); err != nil {
			return nil, err
		}
	}
	if raw := meta["new_tier"]; raw != "" {
		if ev.NewTier, err = strconv.Atoi(raw); err != nil {
			return nil, err
		}
	}
	return ev, nil
}
