package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AmountSign string

const (
	AmountPositive AmountSign = "positive"
	AmountNegative AmountSign = "negative"
)

// ActivityRecord is one transaction from the remote activity feed. Records are
// immutable once synced; the store only ever overwrites them with identical values.
type ActivityRecord struct {
	CanonicalID   string              `json:"canonicalId"`
	AccountID     string              `json:"accountId"`
	IdentityID    string              `json:"identityId,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
	Amount        decimal.Decimal     `json:"amount"`
	AmountSign    AmountSign          `json:"amountSign"`
	Currency      string              `json:"currency"`
	Type          string              `json:"type"`
	SubType       string              `json:"subType,omitempty"`
	Status        string              `json:"status,omitempty"`
	AssetSymbol   string              `json:"assetSymbol,omitempty"`
	AssetQuantity decimal.NullDecimal `json:"assetQuantity"`
	SecurityID    string              `json:"securityId,omitempty"`

	// Joined from the account table at merge time.
	UnifiedAccountType string `json:"unifiedAccountType,omitempty"`

	// Optional descriptive fields (merchant, counter-party, fees...) keyed by
	// their remote field name.
	Details map[string]string `json:"details,omitempty"`
}

// SignedAmount applies AmountSign to Amount.
func (r *ActivityRecord) SignedAmount() decimal.Decimal {
	if r.AmountSign == AmountNegative {
		return r.Amount.Neg()
	}
	return r.Amount
}

// SameAnchor reports whether r is the record a watermark was anchored on.
func (r *ActivityRecord) SameAnchor(w *SyncWatermark) bool {
	if w == nil || w.CanonicalID == "" {
		return false
	}
	if r.CanonicalID != w.CanonicalID {
		return false
	}
	return w.AccountID == "" || r.AccountID == w.AccountID
}

type RecordCategory string

const (
	CategorySelfDirected RecordCategory = "self_directed"
	CategoryManaged      RecordCategory = "managed"
	CategoryCash         RecordCategory = "cash"
	CategoryOther        RecordCategory = "other"
)

func (r *ActivityRecord) Category() RecordCategory {
	unified := strings.ToLower(r.UnifiedAccountType)
	switch {
	case strings.Contains(unified, "self_directed"):
		return CategorySelfDirected
	case strings.Contains(unified, "managed"):
		return CategoryManaged
	case strings.Contains(unified, "cash"):
		return CategoryCash
	default:
		return CategoryOther
	}
}

// SortByOccurredDesc orders records newest first. Ties are broken by
// canonical id, descending, so the order is deterministic.
func SortByOccurredDesc(records []*ActivityRecord) {
	slices.SortStableFunc(records, func(a, b *ActivityRecord) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(b.CanonicalID, a.CanonicalID)
	})
}
