package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/pkg/config"
)

// QiwiClient implements Client over the QIWI P2P REST API.
type QiwiClient struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	breaker    *apperrors.CircuitBreaker
	log        *slog.Logger
}

var _ Client = (*QiwiClient)(nil)

// NewQiwiClient builds a gateway client with a bounded request timeout and a
// circuit breaker, so a dead gateway fails fast instead of wedging handlers.
func NewQiwiClient(cfg config.GatewayConfig, log *slog.Logger) *QiwiClient {
	if log == nil {
		log = slog.Default()
	}

	return &QiwiClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		breaker:    apperrors.NewCircuitBreaker(),
		log:        log,
	}
}

type qiwiAmount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type qiwiStatus struct {
	Value string `json:"value"`
}

type qiwiBill struct {
	BillID string     `json:"billId"`
	Status qiwiStatus `json:"status"`
	PayURL string     `json:"payUrl"`
}

type openBillRequest struct {
	Amount             qiwiAmount `json:"amount"`
	ExpirationDateTime string     `json:"expirationDateTime"`
}

// OpenBill issues PUT /bills/{billID}. The operation is idempotent at the
// gateway because bill identifiers are deterministic.
func (c *QiwiClient) OpenBill(ctx context.Context, billID string, amount int64, lifetime time.Duration) (*Bill, error) {
	payload := openBillRequest{
		Amount: qiwiAmount{
			Currency: "RUB",
			Value:    fmt.Sprintf("%d.00", amount),
		},
		ExpirationDateTime: time.Now().Add(lifetime).Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewGatewayRejectedError(err)
	}

	var bill qiwiBill
	if err := c.do(ctx, http.MethodPut, c.billURL(billID), body, &bill); err != nil {
		return nil, err
	}

	c.log.Info("bill opened",
		slog.String("bill_id", bill.BillID),
		slog.Int64("amount", amount),
		slog.Duration("lifetime", lifetime),
	)

	return &Bill{BillID: bill.BillID, PayURL: bill.PayURL}, nil
}

// CheckBill issues GET /bills/{billID} and returns the parsed status.
func (c *QiwiClient) CheckBill(ctx context.Context, billID string) (Status, error) {
	var bill qiwiBill
	if err := c.do(ctx, http.MethodGet, c.billURL(billID), nil, &bill); err != nil {
		return StatusUnknown, err
	}

	status := ParseStatus(bill.Status.Value)
	if status == StatusUnknown {
		c.log.Error("gateway returned unrecognized bill status",
			slog.String("bill_id", billID),
			slog.String("raw_status", bill.Status.Value),
		)
	}

	return status, nil
}

// RejectBill issues POST /bills/{billID}/reject.
func (c *QiwiClient) RejectBill(ctx context.Context, billID string) error {
	var bill qiwiBill
	return c.do(ctx, http.MethodPost, c.billURL(billID)+"/reject", nil, &bill)
}

func (c *QiwiClient) billURL(billID string) string {
	return fmt.Sprintf("%s/bills/%s", c.baseURL, billID)
}

func (c *QiwiClient) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	call := func() error {
		return c.doOnce(ctx, method, url, body, out)
	}

	return apperrors.WithRetry(ctx, func() error {
		err := c.breaker.Call(call)
		if err == apperrors.ErrCircuitOpen {
			return apperrors.NewGatewayError(err)
		}
		return err
	})
}

func (c *QiwiClient) doOnce(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return apperrors.NewGatewayError(err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("gateway request failed", slog.String("method", method), slog.String("url", url), slog.Any("error", err))
		return apperrors.NewGatewayError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewGatewayError(err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("gateway server error", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return apperrors.NewGatewayError(fmt.Errorf("gateway responded with %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		c.log.Warn("gateway rejected request", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return apperrors.NewGatewayRejectedError(fmt.Errorf("gateway responded with %d: %s", resp.StatusCode, data))
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewGatewayError(fmt.Errorf("decode gateway response: %w", err))
	}

	return nil
}
