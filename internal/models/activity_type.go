package models

import (
	"slices"
	"strings"
)

// ActivityCategories maps the category labels shown to users to the raw
// activity types the remote feed filters on.
var ActivityCategories = map[string][]string{
	"Bonus":                      {"AFFILIATE", "PROMOTION", "REFERRAL"},
	"Buys":                       {"MANAGED_BUY", "CRYPTO_BUY", "DIY_BUY", "OPTIONS_BUY"},
	"Cash sent and received":     {"P2P_PAYMENT"},
	"Deposits":                   {"DEPOSIT", "GROUP_CONTRIBUTION"},
	"Dividends":                  {"DIVIDEND", "STOCK_DIVIDEND"},
	"Interest":                   {"INTEREST"},
	"Fees":                       {"FEE"},
	"Sells":                      {"MANAGED_SELL", "CRYPTO_SELL", "DIY_SELL", "OPTIONS_SELL"},
	"Purchases":                  {"SPEND", "PREPAID_SPEND", "CREDIT_CARD"},
	"Refunds and reimbursements": {"REFUND", "REIMBURSEMENT"},
	"Transfers": {
		"INTERNAL_TRANSFER",
		"INSTITUTIONAL_TRANSFER_INTENT",
		"LEGACY_INTERNAL_TRANSFER",
		"LEGACY_TRANSFER",
		"CRYPTO_TRANSFER",
		"ASSET_MOVEMENT",
	},
	"Withdrawals": {"WITHDRAWAL"},
}

// ExpandActivityTypes resolves a mix of category labels (case-insensitive) and
// raw activity types into a sorted, de-duplicated list of raw types.
func ExpandActivityTypes(values []string) []string {
	seen := make(map[string]struct{})
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if types, ok := lookupCategory(v); ok {
			for _, t := range types {
				seen[t] = struct{}{}
			}
			continue
		}
		seen[strings.ToUpper(v)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func lookupCategory(label string) ([]string, bool) {
	for name, types := range ActivityCategories {
		if strings.EqualFold(name, label) {
			return types, true
		}
	}
	return nil, false
}
