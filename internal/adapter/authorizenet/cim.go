package authorizenet

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/card"
	"github.com/yourorg/payment-gateway/internal/model"
)

const anetNamespace = "AnetApi/xml/v1/schema/AnetApiSchema.xsd"

type merchantAuthentication struct {
	Name           string `xml:"name"`
	TransactionKey string `xml:"transactionKey"`
}

type creditCardXML struct {
	CardNumber     string `xml:"cardNumber"`
	ExpirationDate string `xml:"expirationDate"` // YYYY-MM
	CardCode       string `xml:"cardCode,omitempty"`
}

type paymentXML struct {
	CreditCard creditCardXML `xml:"creditCard"`
}

type profileXML struct {
	MerchantCustomerID string              `xml:"merchantCustomerId"`
	PaymentProfiles    []paymentProfileXML `xml:"paymentProfiles"`
}

type paymentProfileXML struct {
	Payment paymentXML `xml:"payment"`
}

type createProfileRequest struct {
	XMLName        xml.Name               `xml:"createCustomerProfileRequest"`
	Xmlns          string                 `xml:"xmlns,attr"`
	Auth           merchantAuthentication `xml:"merchantAuthentication"`
	Profile        profileXML             `xml:"profile"`
	ValidationMode string                 `xml:"validationMode"`
}

type messagesXML struct {
	ResultCode string `xml:"resultCode"`
	Message    []struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"message"`
}

func (m messagesXML) ok() bool { return m.ResultCode == "Ok" }

func (m messagesXML) first() (code, text string) {
	if len(m.Message) == 0 {
		return "", ""
	}
	return m.Message[0].Code, m.Message[0].Text
}

type createProfileResponse struct {
	XMLName           xml.Name    `xml:"createCustomerProfileResponse"`
	Messages          messagesXML `xml:"messages"`
	CustomerProfileID string      `xml:"customerProfileId"`
	PaymentProfileIDs []string    `xml:"customerPaymentProfileIdList>numericString"`
}

type deleteProfileRequest struct {
	XMLName           xml.Name               `xml:"deleteCustomerProfileRequest"`
	Xmlns             string                 `xml:"xmlns,attr"`
	Auth              merchantAuthentication `xml:"merchantAuthentication"`
	CustomerProfileID string                 `xml:"customerProfileId"`
}

type deleteProfileResponse struct {
	XMLName  xml.Name    `xml:"deleteCustomerProfileResponse"`
	Messages messagesXML `xml:"messages"`
}

type authenticateTestRequest struct {
	XMLName xml.Name               `xml:"authenticateTestRequest"`
	Xmlns   string                 `xml:"xmlns,attr"`
	Auth    merchantAuthentication `xml:"merchantAuthentication"`
}

type authenticateTestResponse struct {
	XMLName  xml.Name    `xml:"authenticateTestResponse"`
	Messages messagesXML `xml:"messages"`
}

func (a *Adapter) auth() merchantAuthentication {
	return merchantAuthentication{
		Name:           a.cfg.Credentials["api_login_id"],
		TransactionKey: a.cfg.Credentials["transaction_key"],
	}
}

// Tokenize stores the card in a CIM customer profile. The returned token
// is the profile id and payment profile id joined with a colon.
func (a *Adapter) Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error) {
	if c == nil || card.Digits(c.Number) == "" {
		return nil, &model.ValidationError{Field: "card.number", Reason: "is required"}
	}

	req := createProfileRequest{
		Xmlns: anetNamespace,
		Auth:  a.auth(),
		Profile: profileXML{
			MerchantCustomerID: adapter.NewReferenceID("cust"),
			PaymentProfiles: []paymentProfileXML{{
				Payment: paymentXML{CreditCard: creditCardXML{
					CardNumber:     card.Digits(c.Number),
					ExpirationDate: fmt.Sprintf("%04d-%02d", card.NormalizeYear(c.ExpiryYear), c.ExpiryMonth),
					CardCode:       c.CVV,
				}},
			}},
		},
		ValidationMode: "none",
	}

	var out createProfileResponse
	if err := a.callXML(ctx, "tokenize", req, &out); err != nil {
		return nil, err
	}
	if !out.Messages.ok() || out.CustomerProfileID == "" {
		code, text := out.Messages.first()
		return nil, &model.GatewayError{Provider: a.cfg.ID, Code: code, Message: "tokenization rejected: " + text}
	}

	paymentProfileID := ""
	if len(out.PaymentProfileIDs) > 0 {
		paymentProfileID = out.PaymentProfileIDs[0]
	}
	return &model.TokenizedCard{
		Token:       out.CustomerProfileID + ":" + paymentProfileID,
		Last4:       card.Last4(c.Number),
		Brand:       card.DetectBrand(c.Number),
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  card.NormalizeYear(c.ExpiryYear),
		Fingerprint: card.Fingerprint(c.Number),
	}, nil
}

// DeleteToken removes the customer profile behind a token.
func (a *Adapter) DeleteToken(ctx context.Context, token string) (bool, error) {
	profileID, _, _ := strings.Cut(token, ":")
	if profileID == "" {
		return false, &model.ValidationError{Field: "token", Reason: "is required"}
	}

	req := deleteProfileRequest{
		Xmlns:             anetNamespace,
		Auth:              a.auth(),
		CustomerProfileID: profileID,
	}
	var out deleteProfileResponse
	if err := a.callXML(ctx, "delete_token", req, &out); err != nil {
		return false, err
	}
	if !out.Messages.ok() {
		code, text := out.Messages.first()
		// E00040: the record does not exist. Deleting an already-deleted
		// token is not a failure.
		if code == "E00040" {
			return true, nil
		}
		return false, &model.GatewayError{Provider: a.cfg.ID, Code: code, Message: text}
	}
	return true, nil
}

// HealthCheck authenticates against the XML API, the documented way to
// probe credentials and availability without moving money.
func (a *Adapter) HealthCheck(ctx context.Context) model.ProviderHealth {
	req := authenticateTestRequest{Xmlns: anetNamespace, Auth: a.auth()}
	var out authenticateTestResponse
	if err := a.callXML(ctx, "health_check", req, &out); err == nil && !out.Messages.ok() {
		code, text := out.Messages.first()
		a.logger.Warn("health check authentication failed",
			zap.String("code", code), zap.String("text", text))
	}
	return a.tracker.Snapshot()
}

// callXML posts one XML request and decodes the response, with the same
// retry and health semantics as the AIM path.
func (a *Adapter) callXML(ctx context.Context, op string, in any, out any) error {
	payload, err := xml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	payload = append([]byte(xml.Header), payload...)

	start := time.Now()
	var body []byte
	r := adapter.Retrier{
		MaxRetries: a.cfg.MaxRetries,
		Delay:      a.cfg.RetryDelay,
		Provider:   a.cfg.ID,
		Logger:     a.logger,
	}
	err = r.Do(ctx, op, func() error {
		b, err := a.post(ctx, a.apiURL, "text/xml", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		a.tracker.RecordFailure(time.Since(start), model.ErrorKind(err), err.Error())
		return err
	}

	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if err := xml.Unmarshal(body, out); err != nil {
		gwErr := &model.GatewayError{Provider: a.cfg.ID, Message: "unparseable XML response"}
		a.tracker.RecordFailure(time.Since(start), "gateway", gwErr.Message)
		return gwErr
	}
	a.tracker.RecordSuccess(time.Since(start))
	return nil
}
