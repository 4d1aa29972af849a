package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/topup-bot/internal/errors"
	"github.com/Proton-105/topup-bot/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *QiwiClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewQiwiClient(config.GatewayConfig{
		SecretKey:      "test-secret",
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
	}, testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQiwiClient_OpenBill(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path

		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		fmt.Fprint(w, `{"billId":"bill-42","status":{"value":"WAITING"},"payUrl":"https://oplata.qiwi.com/form/?invoice_uid=abc"}`)
	})

	bill, err := client.OpenBill(context.Background(), "bill-42", 500, 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-secret", gotAuth)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/bills/bill-42", gotPath)
	assert.Equal(t, "bill-42", bill.BillID)
	assert.Equal(t, "https://oplata.qiwi.com/form/?invoice_uid=abc", bill.PayURL)

	amount, ok := gotBody["amount"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "RUB", amount["currency"])
	assert.Equal(t, "500.00", amount["value"])
}

func TestQiwiClient_CheckBill(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected Status
	}{
		{name: "waiting", raw: "WAITING", expected: StatusWaiting},
		{name: "paid", raw: "PAID", expected: StatusPaid},
		{name: "rejected", raw: "REJECTED", expected: StatusRejected},
		{name: "expired", raw: "EXPIRED", expected: StatusExpired},
		{name: "unrecognized value maps to unknown", raw: "ON_HOLD", expected: StatusUnknown},
		{name: "empty value maps to unknown", raw: "", expected: StatusUnknown},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				fmt.Fprintf(w, `{"billId":"bill-1","status":{"value":"%s"},"payUrl":""}`, tc.raw)
			})

			status, err := client.CheckBill(context.Background(), "bill-1")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, status)
		})
	}
}

func TestQiwiClient_RejectBill(t *testing.T) {
	var gotPath, gotMethod string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		fmt.Fprint(w, `{"billId":"bill-1","status":{"value":"REJECTED"},"payUrl":""}`)
	})

	require.NoError(t, client.RejectBill(context.Background(), "bill-1"))
	assert.Equal(t, "/bills/bill-1/reject", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestQiwiClient_ClientErrorIsNotRetried(t *testing.T) {
	attempts := 0

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.OpenBill(context.Background(), "bill-1", 100, time.Minute)
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, 1, attempts)
}

func TestQiwiClient_ServerErrorIsRetried(t *testing.T) {
	attempts := 0

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"billId":"bill-1","status":{"value":"WAITING"},"payUrl":"https://pay"}`)
	})

	bill, err := client.OpenBill(context.Background(), "bill-1", 100, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "https://pay", bill.PayURL)
}

func TestBillID_Deterministic(t *testing.T) {
	first := BillID(42, 500)
	second := BillID(42, 500)
	assert.Equal(t, first, second)

	assert.NotEqual(t, first, BillID(42, 501))
	assert.NotEqual(t, first, BillID(43, 500))
}
