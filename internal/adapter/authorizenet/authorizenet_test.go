package authorizenet

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
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
		ID:       "anet-1",
		TenantID: "tenant-1",
		Name:     "Authorize.Net Main",
		Type:     model.ProviderAuthorizeNet,
		Credentials: map[string]string{
			"api_login_id":    "login123",
			"transaction_key": "key456",
		},
		IsActive:   true,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

// aimResponse renders a 40-field pipe-delimited AIM answer with the given
// 1-based positions filled in.
func aimResponse(over map[int]string) string {
	fields := make([]string, 40)
	for pos, v := range over {
		fields[pos-1] = v
	}
	return strings.Join(fields, "|")
}

func newAIMAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(testConfig(), WithTransactURL(srv.URL), WithHTTPClient(srv.Client()))
}

func newXMLAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(testConfig(), WithAPIURL(srv.URL), WithHTTPClient(srv.Client()))
}

func cardRequest() *model.TransactionRequest {
	return &model.TransactionRequest{
		Amount:   decimal.NewFromFloat(25.00),
		Currency: "USD",
		Card: &model.Card{
			Number:      "5555555555554444",
			CVV:         "999",
			ExpiryMonth: 3,
			ExpiryYear:  2029,
			HolderName:  "Grace Hopper",
		},
	}
}

func TestSale_Approved(t *testing.T) {
	var got url.Values
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		io.WriteString(w, aimResponse(map[int]string{
			1:  "1",
			4:  "This transaction has been approved.",
			5:  "AUTH42",
			6:  "Y",
			7:  "600123456",
			10: "25.00",
			39: "M",
		}))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.Equal(t, "600123456", resp.TransactionID)
	assert.Equal(t, "AUTH42", resp.AuthCode)
	assert.Equal(t, model.AVSMatch, resp.AVSResult)
	assert.Equal(t, model.CVVMatch, resp.CVVResult)
	assert.True(t, decimal.NewFromFloat(25).Equal(resp.Amount))

	assert.Equal(t, "AUTH_CAPTURE", got.Get("x_type"))
	assert.Equal(t, "login123", got.Get("x_login"))
	assert.Equal(t, "key456", got.Get("x_tran_key"))
	assert.Equal(t, "5555555555554444", got.Get("x_card_num"))
	assert.Equal(t, "0329", got.Get("x_exp_date"))
	assert.Equal(t, "TRUE", got.Get("x_delim_data"))
	assert.Equal(t, "Grace", got.Get("x_first_name"))
	assert.Equal(t, "Hopper", got.Get("x_last_name"))
}

func TestSale_Declined(t *testing.T) {
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aimResponse(map[int]string{
			1: "2",
			3: "2",
			4: "This transaction has been declined.",
		}))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, model.StatusDeclined, resp.Status)
	assert.Equal(t, "2", resp.DeclineCode)
}

func TestSale_HeldForReview(t *testing.T) {
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aimResponse(map[int]string{
			1: "4",
			3: "253",
			4: "Transaction is currently under review.",
		}))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusHeldForReview, resp.Status)
	assert.Equal(t, "253", resp.ErrorCode)
}

func TestSale_GatewayReportedError(t *testing.T) {
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aimResponse(map[int]string{
			1: "3",
			3: "33",
			4: "Credit card number is required.",
		}))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Equal(t, "33", resp.ErrorCode)
}

func TestSale_TruncatedResponseIsGatewayError(t *testing.T) {
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "1|1")
	})

	_, err := a.Sale(context.Background(), cardRequest())
	var gwErr *model.GatewayError
	require.True(t, errors.As(err, &gwErr))
}

func TestSale_RetriesServerErrors(t *testing.T) {
	var calls int32
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, aimResponse(map[int]string{1: "1", 7: "600"}))
	})

	resp, err := a.Sale(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestVerify_ZeroDollarAuthOnly(t *testing.T) {
	var got url.Values
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		io.WriteString(w, aimResponse(map[int]string{1: "1", 7: "600"}))
	})

	_, err := a.Verify(context.Background(), cardRequest())
	require.NoError(t, err)
	assert.Equal(t, "AUTH_ONLY", got.Get("x_type"))
	assert.Equal(t, "0.00", got.Get("x_amount"))
}

func TestCapture_FullWhenAmountNil(t *testing.T) {
	var got url.Values
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		io.WriteString(w, aimResponse(map[int]string{1: "1", 7: "600"}))
	})

	resp, err := a.Capture(context.Background(), "600", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resp.Status)
	assert.Equal(t, "PRIOR_AUTH_CAPTURE", got.Get("x_type"))
	assert.Equal(t, "600", got.Get("x_trans_id"))
	assert.Empty(t, got.Get("x_amount"), "omitted amount captures in full")
}

func TestVoid_ForcesVoidedStatus(t *testing.T) {
	a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, aimResponse(map[int]string{1: "1", 7: "600"}))
	})

	resp, err := a.Void(context.Background(), "600")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoided, resp.Status)
	assert.True(t, resp.Success)
}

func TestRefund(t *testing.T) {
	t.Run("requires amount", func(t *testing.T) {
		a := New(testConfig())
		_, err := a.Refund(context.Background(), "600", nil)
		var vErr *model.ValidationError
		require.True(t, errors.As(err, &vErr))
	})

	t.Run("credit with amount", func(t *testing.T) {
		var got url.Values
		a := newAIMAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			io.WriteString(w, aimResponse(map[int]string{1: "1", 7: "601"}))
		})

		amt := decimal.NewFromFloat(10)
		resp, err := a.Refund(context.Background(), "600", &amt)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRefunded, resp.Status)
		assert.Equal(t, "CREDIT", got.Get("x_type"))
		assert.Equal(t, "10.00", got.Get("x_amount"))
	})
}

const tokenizeOKResponse = `<?xml version="1.0" encoding="utf-8"?>
<createCustomerProfileResponse xmlns="AnetApi/xml/v1/schema/AnetApiSchema.xsd">
  <messages><resultCode>Ok</resultCode><message><code>I00001</code><text>Successful.</text></message></messages>
  <customerProfileId>120394823</customerProfileId>
  <customerPaymentProfileIdList><numericString>109485</numericString></customerPaymentProfileIdList>
</createCustomerProfileResponse>`

func TestTokenize(t *testing.T) {
	var gotBody string
	a := newXMLAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, tokenizeOKResponse)
	})

	tok, err := a.Tokenize(context.Background(), &model.Card{
		Number:      "4111111111111111",
		CVV:         "123",
		ExpiryMonth: 12,
		ExpiryYear:  30,
	})
	require.NoError(t, err)

	assert.Equal(t, "120394823:109485", tok.Token)
	assert.Equal(t, "1111", tok.Last4)
	assert.Equal(t, model.BrandVisa, tok.Brand)
	assert.Equal(t, 2030, tok.ExpiryYear)
	assert.NotEmpty(t, tok.Fingerprint)

	assert.Contains(t, gotBody, "<createCustomerProfileRequest")
	assert.Contains(t, gotBody, "<name>login123</name>")
	assert.Contains(t, gotBody, "<expirationDate>2030-12</expirationDate>")
}

func TestTokenize_Rejected(t *testing.T) {
	a := newXMLAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?>
<createCustomerProfileResponse>
  <messages><resultCode>Error</resultCode><message><code>E00039</code><text>A duplicate record already exists.</text></message></messages>
</createCustomerProfileResponse>`)
	})

	_, err := a.Tokenize(context.Background(), &model.Card{Number: "4111111111111111", ExpiryMonth: 1, ExpiryYear: 30})
	var gwErr *model.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "E00039", gwErr.Code)
}

func TestDeleteToken(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotBody string
		a := newXMLAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			io.WriteString(w, `<?xml version="1.0"?>
<deleteCustomerProfileResponse>
  <messages><resultCode>Ok</resultCode></messages>
</deleteCustomerProfileResponse>`)
		})

		ok, err := a.DeleteToken(context.Background(), "120394823:109485")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, gotBody, "<customerProfileId>120394823</customerProfileId>")
	})

	t.Run("already gone counts as deleted", func(t *testing.T) {
		a := newXMLAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<?xml version="1.0"?>
<deleteCustomerProfileResponse>
  <messages><resultCode>Error</resultCode><message><code>E00040</code><text>The record cannot be found.</text></message></messages>
</deleteCustomerProfileResponse>`)
		})

		ok, err := a.DeleteToken(context.Background(), "120394823:109485")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestHealthCheck(t *testing.T) {
	var gotBody string
	a := newXMLAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `<?xml version="1.0"?>
<authenticateTestResponse>
  <messages><resultCode>Ok</resultCode></messages>
</authenticateTestResponse>`)
	})

	h := a.HealthCheck(context.Background())
	assert.Equal(t, model.HealthHealthy, h.Status)
	assert.Contains(t, gotBody, "<authenticateTestRequest")
}

func TestSandboxEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "sandbox"
	a := New(cfg)
	assert.Equal(t, sandboxTransactURL, a.transactURL)
	assert.Equal(t, sandboxAPIURL, a.apiURL)
}
