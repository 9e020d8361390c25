// Package paymentprovider — клиент внешнего платёжного шлюза. Шлюз для
// движка непрозрачен: таймаут синхронного вызова — неоднозначный исход,
// источником истины остаётся webhook.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrAmbiguousOutcome возвращается при таймауте или обрыве синхронного вызова:
// списание могло пройти, утверждать обратное нельзя.
var ErrAmbiguousOutcome = errors.New("payment outcome ambiguous, await webhook")

// Client — HTTP-клиент шлюза.
type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт клиент шлюза.
func NewClient(shopID, secretKey, apiURL string) *Client {
	return &Client{
		shopID:     shopID,
		secretKey:  secretKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, idempotenceKey string, body any) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
	return req, nil
}

// CreatePayment отправляет запрос на списание. Сетевые ошибки и таймауты
// возвращаются как ErrAmbiguousOutcome.
func (c *Client) CreatePayment(ctx context.Context, reqParams CreatePaymentRequest) (*CreatePaymentResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/payments", reqParams.IdempotenceKey, reqParams)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousOutcome, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %s", ErrAmbiguousOutcome, resp.Status)
		}
		return nil, errors.New("unexpected status: " + resp.Status)
	}

	var paymentResp CreatePaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&paymentResp); err != nil {
		return nil, err
	}
	return &paymentResp, nil
}

// FormatAmount переводит минорные единицы в десятичную строку шлюза,
// например 2226 -> "22.26".
func FormatAmount(minor int64) string {
	return strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}

// ParseAmount переводит десятичную строку шлюза в минорные единицы.
func ParseAmount(value string) (int64, error) {
	whole, frac := value, "00"
	for i := 0; i < len(value); i++ {
		if value[i] == '.' {
			whole, frac = value[:i], value[i+1:]
			break
		}
	}
	if len(frac) == 1 {
		frac += "0"
	}
	if len(frac) != 2 {
		return 0, fmt.Errorf("unsupported minor unit precision in %q", value)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return w*100 + f, nil
}
