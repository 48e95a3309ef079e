// Package reporting condenses journaled payment outcomes into activity
// summaries for operators. Summaries are computed on demand from journal
// records; nothing here holds state.
package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Summary aggregates one tenant's journal records. Volume is summed for
// approved payments only, per currency, so partial failures and declines
// never inflate it.
type Summary struct {
	TotalTransactions int `json:"total_transactions"`
	Approved          int `json:"approved"`
	Declined          int `json:"declined"`
	Failed            int `json:"failed"`
	HeldForReview     int `json:"held_for_review"`
	Voided            int `json:"voided"`
	Refunded          int `json:"refunded"`
	FallbacksUsed     int `json:"fallbacks_used"`

	ApprovedVolume   map[string]decimal.Decimal `json:"approved_volume"`
	DeclineBreakdown map[string]int             `json:"decline_breakdown"`
	ErrorBreakdown   map[string]int             `json:"error_breakdown"`
	ProviderUsage    map[string]int             `json:"provider_usage"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summarize walks the records once and tallies them. An empty input
// yields a zero summary with initialized maps so callers and the JSON
// encoder never see nil.
func Summarize(entries []model.PaymentResult) *Summary {
	s := &Summary{
		ApprovedVolume:   make(map[string]decimal.Decimal),
		DeclineBreakdown: make(map[string]int),
		ErrorBreakdown:   make(map[string]int),
		ProviderUsage:    make(map[string]int),
	}

	for i, e := range entries {
		s.TotalTransactions++
		if i == 0 {
			s.From, s.To = e.ProcessedAt, e.ProcessedAt
		} else {
			if e.ProcessedAt.Before(s.From) {
				s.From = e.ProcessedAt
			}
			if e.ProcessedAt.After(s.To) {
				s.To = e.ProcessedAt
			}
		}

		if e.ProviderID != "" {
			s.ProviderUsage[e.ProviderID]++
		}
		if e.FallbackUsed {
			s.FallbacksUsed++
		}

		switch e.Status {
		case model.StatusApproved:
			s.Approved++
			s.ApprovedVolume[e.Currency] = s.ApprovedVolume[e.Currency].Add(e.Amount)
		case model.StatusDeclined:
			s.Declined++
			if e.DeclineCode != "" {
				s.DeclineBreakdown[e.DeclineCode]++
			}
		case model.StatusError:
			s.Failed++
			if e.ErrorCode != "" {
				s.ErrorBreakdown[e.ErrorCode]++
			}
		case model.StatusHeldForReview:
			s.HeldForReview++
		case model.StatusVoided:
			s.Voided++
		case model.StatusRefunded:
			s.Refunded++
		}
	}

	return s
}
