package models

import (
	"strings"
)

const AccountStatusOpen = "open"

type Account struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	UnifiedAccountType string `json:"unifiedAccountType"`
	Currency           string `json:"currency"`
	Nickname           string `json:"nickname,omitempty"`
	Status             string `json:"status"`
}

func (a *Account) IsOpen() bool {
	return strings.EqualFold(a.Status, AccountStatusOpen)
}

// DisplayName returns the nickname when set, otherwise a label derived from the
// unified account type, e.g. "MANAGED_JOINT_TFSA" becomes "Joint TFSA".
func (a *Account) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}

	unified := strings.ToUpper(a.UnifiedAccountType)
	switch {
	case strings.Contains(unified, "CREDIT_CARD"):
		return "Credit card"
	case unified == "CASH":
		return "Personal Chequing"
	case strings.Contains(unified, "DIRECT_INDEX"):
		return "Direct Indexing"
	case strings.Contains(unified, "CRYPTO"):
		return "Crypto"
	}

	base := strings.TrimPrefix(strings.TrimPrefix(unified, "MANAGED_"), "SELF_DIRECTED_")
	switch {
	case strings.Contains(base, "CORPORATE_SAVE"):
		return "Corporate Save"
	case strings.Contains(base, "HISA"):
		return "High Interest Savings"
	}

	var name string
	if strings.Contains(base, "JOINT") {
		name = "Joint "
		base = strings.Replace(base, "JOINT_", "", 1)
	}

	switch {
	case strings.Contains(base, "TFSA"):
		name += "TFSA"
	case strings.Contains(base, "RRSP"):
		name += "RRSP"
	case strings.Contains(base, "NON_REGISTERED"):
		name += "Non-registered"
	case strings.Contains(base, "CORPORATE"):
		name += "Corporate investing"
	default:
		name += strings.ReplaceAll(base, "_", " ")
	}

	if strings.Contains(base, "MARGIN") {
		name += " margin"
	}

	if strings.TrimSpace(name) == "" {
		return strings.ReplaceAll(a.Type, "_", " ")
	}
	return name
}
