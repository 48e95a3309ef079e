package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/model"
)

func TestDefaultRules(t *testing.T) {
	e := Default(nil)

	cases := []struct {
		name         string
		attempt      Attempt
		wantContinue bool
		wantRule     string
	}{
		{
			name:         "connection error continues",
			attempt:      Attempt{Operation: model.OperationSale, ErrorKind: "connection"},
			wantContinue: true,
			wantRule:     "continue-recoverable-failures",
		},
		{
			name:         "gateway error continues",
			attempt:      Attempt{Operation: model.OperationSale, ErrorKind: "gateway"},
			wantContinue: true,
			wantRule:     "continue-recoverable-failures",
		},
		{
			name:         "error status continues",
			attempt:      Attempt{Operation: model.OperationSale, ErrorKind: "none", Status: model.StatusError},
			wantContinue: true,
			wantRule:     "continue-recoverable-failures",
		},
		{
			name:         "validation error stops",
			attempt:      Attempt{Operation: model.OperationSale, ErrorKind: "validation"},
			wantContinue: false,
			wantRule:     "halt-ineligible-failures",
		},
		{
			name:         "configuration error stops",
			attempt:      Attempt{Operation: model.OperationTokenize, ErrorKind: "configuration"},
			wantContinue: false,
			wantRule:     "halt-ineligible-failures",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(tc.attempt)
			assert.Equal(t, tc.wantContinue, d.Continue)
			assert.Equal(t, tc.wantRule, d.Rule)
			assert.False(t, d.EscalateManual)
		})
	}
}

func TestCustomRule_FirstMatchWins(t *testing.T) {
	e, err := New(nil,
		RuleConfig{
			Name:       "large-sales-need-review",
			Expression: "operation == 'sale' && amount >= 10000",
			Effect:     EffectEscalate,
		},
		RuleConfig{
			Name:       "everything-else-continues",
			Expression: "true",
			Effect:     EffectContinue,
		},
	)
	require.NoError(t, err)

	d := e.Decide(Attempt{
		Operation: model.OperationSale,
		Amount:    decimal.NewFromInt(25000),
		ErrorKind: "connection",
	})
	assert.False(t, d.Continue)
	assert.True(t, d.EscalateManual)
	assert.Equal(t, "large-sales-need-review", d.Rule)

	d = e.Decide(Attempt{
		Operation: model.OperationSale,
		Amount:    decimal.NewFromInt(50),
		ErrorKind: "connection",
	})
	assert.True(t, d.Continue)
	assert.Equal(t, "everything-else-continues", d.Rule)
}

func TestCustomRule_AttemptBudget(t *testing.T) {
	e, err := New(nil,
		RuleConfig{Name: "cap-chain-length", Expression: "attempt >= 3", Effect: EffectStop},
		RuleConfig{Name: "default-continue", Expression: "fallback_eligible", Effect: EffectContinue},
	)
	require.NoError(t, err)

	assert.True(t, e.Decide(Attempt{Attempt: 2, ErrorKind: "connection"}).Continue)
	assert.False(t, e.Decide(Attempt{Attempt: 3, ErrorKind: "connection"}).Continue)
}

func TestNew_RejectsBadRules(t *testing.T) {
	_, err := New(nil, RuleConfig{Name: "broken", Expression: "amount >=", Effect: EffectStop})
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = New(nil, RuleConfig{Name: "odd-effect", Expression: "true", Effect: "reboot"})
	require.ErrorAs(t, err, &cfgErr)
}

func TestDecide_SkipsNonBooleanRules(t *testing.T) {
	e, err := New(nil,
		RuleConfig{Name: "arithmetic", Expression: "attempt + 1", Effect: EffectStop},
	)
	require.NoError(t, err)

	d := e.Decide(Attempt{Attempt: 1, ErrorKind: "connection"})
	assert.True(t, d.Continue, "non-boolean rules are skipped, leaving the built-in default")
	assert.Empty(t, d.Rule)
}

func TestDecide_NoMatchContinues(t *testing.T) {
	e, err := New(nil,
		RuleConfig{Name: "never", Expression: "currency == 'XRP'", Effect: EffectStop},
	)
	require.NoError(t, err)

	d := e.Decide(Attempt{Currency: "USD", ErrorKind: "connection"})
	assert.True(t, d.Continue)
	assert.Empty(t, d.Rule)
}

func TestDecide_DeclineCodeVisible(t *testing.T) {
	e, err := New(nil,
		RuleConfig{
			Name:       "hard-declines-stop",
			Expression: "decline_code == 'stolen_card' || decline_code == 'fraudulent'",
			Effect:     EffectEscalate,
		},
	)
	require.NoError(t, err)

	d := e.Decide(Attempt{Status: model.StatusError, DeclineCode: "stolen_card"})
	assert.True(t, d.EscalateManual)
}
