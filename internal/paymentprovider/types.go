package paymentprovider

// CreatePaymentRequest — запрос на списание у внешнего шлюза.
// IdempotenceKey стабилен для попытки: повторная отправка того же
// запроса не создаёт второго списания.
type CreatePaymentRequest struct {
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Description    string            `json:"description"`
	Capture        bool              `json:"capture"`
	IdempotenceKey string            `json:"-"`
	Metadata       map[string]string `json:"metadata"`
}

// CreatePaymentResponse — синхронный ответ шлюза. Статус здесь совещательный:
// окончательный исход приходит webhook-ом.
type CreatePaymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// Синхронные статусы шлюза.
const (
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
	StatusPending   = "pending"
)
