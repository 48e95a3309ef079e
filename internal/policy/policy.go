// Package policy decides whether a failed payment attempt may continue
// down the fallback chain. Rules are govaluate expressions evaluated
// against the attempt's parameters, so operators can tune fallback
// behavior per deployment without code changes. Terminal outcomes
// (approvals, declines, holds) never reach the engine; it only sees
// attempts that failed in a potentially recoverable way.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Effects a matching rule can apply.
const (
	EffectContinue = "continue"      // proceed to the next provider
	EffectStop     = "stop_fallback" // stop the chain, surface the failure
	EffectEscalate = "escalate"      // stop and flag for manual review
)

// RuleConfig is one declarative rule: a name, a boolean govaluate
// expression, and the effect applied when the expression is true. Rules
// are evaluated in order and the first match wins.
type RuleConfig struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Effect     string `json:"effect"`
}

// Attempt carries the parameters one failed attempt exposes to rule
// expressions.
type Attempt struct {
	Operation   model.OperationType
	TenantID    string
	ProviderID  string
	Attempt     int // 1-based position in the chain
	Remaining   int // providers left after this one
	Amount      decimal.Decimal
	Currency    string
	Status      model.TransactionStatus // empty when the attempt returned an error
	ErrorKind   string                  // taxonomy label, "none" when a response came back
	DeclineCode string
}

// Decision is the engine's verdict on one failed attempt.
type Decision struct {
	Continue       bool
	EscalateManual bool
	Rule           string // name of the rule that decided, empty for the built-in default
}

type compiledRule struct {
	cfg  RuleConfig
	expr *govaluate.EvaluableExpression
}

// Engine evaluates an ordered rule set. Safe for concurrent use once
// built; compiled expressions are read-only.
type Engine struct {
	rules  []compiledRule
	logger *zap.Logger
}

// New compiles the rule set. An expression that fails to parse or a rule
// with an unknown effect is a configuration error.
func New(logger *zap.Logger, rules ...RuleConfig) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	for _, rc := range rules {
		switch rc.Effect {
		case EffectContinue, EffectStop, EffectEscalate:
		default:
			return nil, &model.ConfigurationError{
				Reason: fmt.Sprintf("policy rule %q: unknown effect %q", rc.Name, rc.Effect),
			}
		}
		expr, err := govaluate.NewEvaluableExpression(rc.Expression)
		if err != nil {
			return nil, &model.ConfigurationError{
				Reason: fmt.Sprintf("policy rule %q: %v", rc.Name, err),
			}
		}
		e.rules = append(e.rules, compiledRule{cfg: rc, expr: expr})
	}
	return e, nil
}

// DefaultRules reproduce the standard fallback contract: transient
// transport trouble and unusable gateway answers continue down the
// chain, anything else stops it.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:       "halt-ineligible-failures",
			Expression: "fallback_eligible == false",
			Effect:     EffectStop,
		},
		{
			Name:       "continue-recoverable-failures",
			Expression: "error_kind == 'connection' || error_kind == 'gateway' || status == 'ERROR'",
			Effect:     EffectContinue,
		},
	}
}

// Default returns an engine running DefaultRules.
func Default(logger *zap.Logger) *Engine {
	e, err := New(logger, DefaultRules()...)
	if err != nil {
		// DefaultRules is static and covered by tests; a compile failure
		// here is a programming error.
		panic(err)
	}
	return e
}

// Decide evaluates the rules in order against one failed attempt. The
// first rule whose expression is true applies its effect; a rule that
// errors at evaluation time or yields a non-boolean is skipped with a
// warning. When nothing matches the attempt may continue.
func (e *Engine) Decide(a Attempt) Decision {
	params := a.params()
	for _, r := range e.rules {
		out, err := r.expr.Evaluate(params)
		if err != nil {
			e.logger.Warn("policy rule evaluation failed",
				zap.String("rule", r.cfg.Name),
				zap.Error(err))
			continue
		}
		matched, ok := out.(bool)
		if !ok {
			e.logger.Warn("policy rule did not yield a boolean",
				zap.String("rule", r.cfg.Name))
			continue
		}
		if !matched {
			continue
		}
		switch r.cfg.Effect {
		case EffectContinue:
			return Decision{Continue: true, Rule: r.cfg.Name}
		case EffectEscalate:
			return Decision{Continue: false, EscalateManual: true, Rule: r.cfg.Name}
		default:
			return Decision{Continue: false, Rule: r.cfg.Name}
		}
	}
	return Decision{Continue: true}
}

func (a Attempt) params() map[string]interface{} {
	eligible := a.ErrorKind == "connection" || a.ErrorKind == "gateway" || a.Status == model.StatusError
	return map[string]interface{}{
		"operation":         string(a.Operation),
		"tenant_id":         a.TenantID,
		"provider_id":       a.ProviderID,
		"attempt":           a.Attempt,
		"remaining":         a.Remaining,
		"amount":            a.Amount.InexactFloat64(),
		"currency":          a.Currency,
		"status":            string(a.Status),
		"error_kind":        a.ErrorKind,
		"decline_code":      a.DeclineCode,
		"fallback_eligible": eligible,
	}
}
