// Package adapter defines the capability contract every payment gateway
// integration implements, plus the small set of shared helpers the
// concrete adapters compose: amount bounds checks, reference id
// generation, retry with linear backoff, and AVS/CVV code mapping.
// Adapters handle all gateway-specific wire work, including
// serialization, retries, and error mapping, normalizing raw gateway
// responses into the shared transaction model.
package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Adapter is implemented by each gateway integration. Implementations are
// safe for concurrent use; health statistics are updated internally after
// every gateway interaction.
//
// Business declines are results, not errors: Sale and friends return a
// response with StatusDeclined and a nil error when the gateway declines.
// Errors are reserved for validation failures, transport failures and
// unusable gateway responses.
type Adapter interface {
	// ID returns the registered provider id, unique across all tenants.
	ID() string
	// Name returns the display name from the provider's configuration.
	Name() string
	// Type identifies which gateway integration this adapter speaks to.
	Type() model.ProviderType
	// Config returns the immutable registered configuration.
	Config() model.ProviderConfig
	// Health returns a snapshot of the rolling health statistics.
	Health() model.ProviderHealth

	// Sale authorizes and captures in one step.
	Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	// Authorize places a hold without capturing funds.
	Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	// Capture settles a prior authorization. A nil amount captures the
	// full authorized amount.
	Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error)
	// Void cancels an unsettled transaction. Successful voids always
	// report StatusVoided regardless of the gateway's own vocabulary.
	Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error)
	// Refund returns settled funds. A nil amount refunds in full.
	// Successful refunds always report StatusRefunded.
	Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error)
	// Verify checks that a card is open and valid without leaving a hold
	// on it. Every implementation guarantees that any amount reserved
	// during verification is released before Verify returns.
	Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)

	// Tokenize exchanges raw card data for a reusable gateway token.
	Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error)
	// DeleteToken removes a stored token. Gateways without a token
	// lifecycle report true.
	DeleteToken(ctx context.Context, token string) (bool, error)

	// HealthCheck probes the gateway and folds the outcome into the
	// rolling statistics. It reports the resulting snapshot and never
	// returns an error; an unreachable gateway is a health state, not a
	// failure of the check.
	HealthCheck(ctx context.Context) model.ProviderHealth
}
