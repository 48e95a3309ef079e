package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/model"
)

func testConfig() model.ProviderConfig {
	return model.ProviderConfig{
		ID:       "pp-1",
		TenantID: "tenant-1",
		Name:     "PayPal Main",
		Type:     model.ProviderPayPal,
		Credentials: map[string]string{
			"user":      "merchant_api1.example.com",
			"pwd":       "secret",
			"signature": "AFcWxV21C7fd0v3bYYYRCpSSRl31A",
		},
		IsActive:   true,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(testConfig(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
}

func nvpResponse(pairs map[string]string) string {
	v := url.Values{}
	for k, val := range pairs {
		v.Set(k, val)
	}
	return v.Encode()
}

func cardRequest() *model.TransactionRequest {
	return &model.TransactionRequest{
		Amount:   decimal.NewFromFloat(10.50),
		Currency: "USD",
		Card: &model.Card{
			Number:      "4111111111111111",
			CVV:         "123",
			ExpiryMonth: 12,
			ExpiryYear:  2030,
			HolderName:  "Ada Lovelace",
		},
		BillingAddress: &model.Address{
			Line1:      "1 Main St",
			City:       "Springfield",
			Region:     "IL",
			PostalCode: "62701",
			Country:    "US",
		},
	}
}

func TestSale_Approved(t *testing.T) {
	var got url.Values
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Write([]byte(nvpResponse(map[string]string{
			"ACK":           "Success",
			"TRANSACTIONID": "5TY05013RG002845M",
			"AMT":           "10.50",
			"CURRENCYCODE":  "USD",
			"AVSCODE":       "Y",
			"CVV2MATCH":     "M",
			"CORRELATIONID": "abc123",
		})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.Equal(t, "5TY05013RG002845M", resp.TransactionID)
	assert.Equal(t, model.AVSMatch, resp.AVSResult)
	assert.Equal(t, model.CVVMatch, resp.CVVResult)
	assert.True(t, decimal.NewFromFloat(10.50).Equal(resp.Amount))
	assert.NotEmpty(t, resp.RawResponse)

	// Wire shape of the outbound call.
	assert.Equal(t, "DoDirectPayment", got.Get("METHOD"))
	assert.Equal(t, "Sale", got.Get("PAYMENTACTION"))
	assert.Equal(t, "4111111111111111", got.Get("ACCT"))
	assert.Equal(t, "122030", got.Get("EXPDATE"))
	assert.Equal(t, "123", got.Get("CVV2"))
	assert.Equal(t, "merchant_api1.example.com", got.Get("USER"))
	assert.Equal(t, "Ada", got.Get("FIRSTNAME"))
	assert.Equal(t, "Lovelace", got.Get("LASTNAME"))
	assert.Equal(t, "62701", got.Get("ZIP"))
}

func TestSale_GeneratesReferenceID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "TRANSACTIONID": "T1"})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^PAYPAL-[0-9A-Z]+-[0-9A-Z]{6}$`, resp.ReferenceID)
}

func TestSale_Declined(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(nvpResponse(map[string]string{
			"ACK":             "Failure",
			"L_ERRORCODE0":    "10752",
			"L_SHORTMESSAGE0": "Gateway Decline",
			"L_LONGMESSAGE0":  "This transaction cannot be processed.",
		})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err, "declines are results, not errors")

	assert.False(t, resp.Success)
	assert.Equal(t, model.StatusDeclined, resp.Status)
	assert.Equal(t, "10752", resp.DeclineCode)
	assert.Contains(t, resp.ErrorMessage, "cannot be processed")
}

func TestSale_UnknownFailureCodeIsError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(nvpResponse(map[string]string{
			"ACK":            "Failure",
			"L_ERRORCODE0":   "10002",
			"L_LONGMESSAGE0": "Security header is not valid",
		})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Equal(t, "10002", resp.ErrorCode)
	assert.Empty(t, resp.DeclineCode)
}

func TestSale_FMFPendingHeldForReview(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(nvpResponse(map[string]string{
			"ACK":            "SuccessWithWarning",
			"TRANSACTIONID":  "9BX12345",
			"L_ERRORCODE0":   "11610",
			"L_LONGMESSAGE0": "Payment Pending your review in Fraud Management Filters",
		})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusHeldForReview, resp.Status)
	assert.False(t, resp.Success)
	assert.Equal(t, "9BX12345", resp.TransactionID)
}

func TestSale_RetriesTransportFailures(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "TRANSACTIONID": "T1"})))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestSale_ConnectionErrorAfterRetryBudget(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := a.Sale(context.Background(), cardRequest())
	var connErr *model.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "first attempt plus two retries")

	h := a.Health()
	assert.Greater(t, h.ErrorRate, 0.0)
	require.NotNil(t, h.LastError)
	assert.Equal(t, "connection", h.LastError.Code)
}

func TestSale_UnparseableResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>this is not nvp</html>"))
	})

	_, err := a.Sale(context.Background(), cardRequest())
	var gwErr *model.GatewayError
	require.True(t, errors.As(err, &gwErr))
}

func TestSale_BoundsCheckedBeforeNetwork(t *testing.T) {
	var calls int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	min := decimal.NewFromFloat(5)
	a.cfg.MinAmount = &min

	req := cardRequest()
	req.Amount = decimal.NewFromFloat(1)

	_, err := a.Sale(context.Background(), req)
	var vErr *model.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Zero(t, atomic.LoadInt32(&calls), "no network call for out-of-bounds amounts")
}

func TestVerify_ZeroAmountAuthorization(t *testing.T) {
	var got url.Values
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "TRANSACTIONID": "V1"})))
	})
	min := decimal.NewFromFloat(5)
	a.cfg.MinAmount = &min // bounds must not apply to verification

	resp, err := a.Verify(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.Equal(t, "Authorization", got.Get("PAYMENTACTION"))
	assert.Equal(t, "0.00", got.Get("AMT"))
}

func TestCapture(t *testing.T) {
	t.Run("requires amount", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := a.Capture(context.Background(), "AUTH-1", nil)
		var vErr *model.ValidationError
		require.True(t, errors.As(err, &vErr))
	})

	t.Run("success", func(t *testing.T) {
		var got url.Values
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "TRANSACTIONID": "CAP-1"})))
		})

		amt := decimal.NewFromFloat(10.50)
		resp, err := a.Capture(context.Background(), "AUTH-1", &amt)
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, resp.Status)
		assert.Equal(t, "DoCapture", got.Get("METHOD"))
		assert.Equal(t, "AUTH-1", got.Get("AUTHORIZATIONID"))
		assert.Equal(t, "Complete", got.Get("COMPLETETYPE"))
	})
}

func TestVoid_ForcesVoidedStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "AUTHORIZATIONID": "AUTH-1"})))
	})

	resp, err := a.Void(context.Background(), "AUTH-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoided, resp.Status)
	assert.True(t, resp.Success)
	assert.Equal(t, "AUTH-1", resp.TransactionID)
}

func TestRefund(t *testing.T) {
	t.Run("full when amount nil", func(t *testing.T) {
		var got url.Values
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "REFUNDTRANSACTIONID": "R1"})))
		})

		resp, err := a.Refund(context.Background(), "TXN-1", nil)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRefunded, resp.Status)
		assert.Equal(t, "Full", got.Get("REFUNDTYPE"))
		assert.Equal(t, "R1", resp.TransactionID)
	})

	t.Run("partial with amount", func(t *testing.T) {
		var got url.Values
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "REFUNDTRANSACTIONID": "R2"})))
		})

		amt := decimal.NewFromFloat(3.25)
		_, err := a.Refund(context.Background(), "TXN-1", &amt)
		require.NoError(t, err)
		assert.Equal(t, "Partial", got.Get("REFUNDTYPE"))
		assert.Equal(t, "3.25", got.Get("AMT"))
	})
}

func TestTokenize_Unsupported(t *testing.T) {
	a := New(testConfig())

	_, err := a.Tokenize(context.Background(), &model.Card{Number: "4111111111111111"})
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	ok, err := a.DeleteToken(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok, "no token lifecycle means delete is vacuously true")
}

func TestHealthCheck_UsesGetBalance(t *testing.T) {
	var got url.Values
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Write([]byte(nvpResponse(map[string]string{"ACK": "Success", "L_AMT0": "0.00"})))
	})

	h := a.HealthCheck(context.Background())
	assert.Equal(t, "GetBalance", got.Get("METHOD"))
	assert.Equal(t, model.HealthHealthy, h.Status)
	assert.Equal(t, 1.0, h.SuccessRate)
}

func TestSandboxEndpointSelection(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "sandbox"
	a := New(cfg)
	assert.Equal(t, sandboxEndpoint, a.endpoint)

	live := New(testConfig())
	assert.Equal(t, liveEndpoint, live.endpoint)
}
