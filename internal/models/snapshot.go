package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type CashAccountSnapshot struct {
	Account         Account         `json:"account"`
	Balance         *Money          `json:"balance,omitempty"`
	CADInterestRate decimal.Decimal `json:"cadInterestRate"`
	USDInterestRate decimal.Decimal `json:"usdInterestRate"`
}

type ManagedPosition struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Category   string          `json:"category,omitempty"`
	Currency   string          `json:"currency"`
	Quantity   decimal.Decimal `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
	Allocation decimal.Decimal `json:"allocation"`
	Account    *Account        `json:"account,omitempty"`
}

type TradePosition struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Exchange     string          `json:"exchange,omitempty"`
	SecurityType string          `json:"securityType"`
	Currency     string          `json:"currency"`
	Quantity     decimal.Decimal `json:"quantity"`
	Active       bool            `json:"active"`
	Account      *Account        `json:"account,omitempty"`
}

// FinancialSnapshot is a read-through projection of balances and positions,
// cached as a whole with CreatedAt.
type FinancialSnapshot struct {
	CashAccounts     []CashAccountSnapshot `json:"cashAccounts"`
	ManagedPositions []ManagedPosition     `json:"managedPositions"`
	TradePositions   []TradePosition       `json:"tradePositions"`
	IdentityID       string                `json:"identityId,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`

	Stale           bool `json:"isOldData"`
	NeedsCredential bool `json:"needLogin"`
}
