package repositories

import (
	"encoding/json"
	"fmt"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/shopspring/decimal"
)

// recordRow is the column form of an ActivityRecord shared by the SQL stores.
// Decimals travel as strings so the remote representation is kept exactly.
type recordRow struct {
	CanonicalID        string
	AccountID          string
	IdentityID         string
	Amount             string
	AmountSign         string
	Currency           string
	Type               string
	SubType            string
	Status             string
	AssetSymbol        string
	AssetQuantity      *string
	SecurityID         string
	UnifiedAccountType string
	Details            []byte
}

func toRecordRow(r *models.ActivityRecord) (recordRow, error) {
	row := recordRow{
		CanonicalID:        r.CanonicalID,
		AccountID:          r.AccountID,
		IdentityID:         r.IdentityID,
		Amount:             r.Amount.String(),
		AmountSign:         string(r.AmountSign),
		Currency:           r.Currency,
		Type:               r.Type,
		SubType:            r.SubType,
		Status:             r.Status,
		AssetSymbol:        r.AssetSymbol,
		SecurityID:         r.SecurityID,
		UnifiedAccountType: r.UnifiedAccountType,
	}
	if r.AssetQuantity.Valid {
		q := r.AssetQuantity.Decimal.String()
		row.AssetQuantity = &q
	}

	details := r.Details
	if details == nil {
		details = map[string]string{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return recordRow{}, fmt.Errorf("failed to marshal details of %s: %w", r.CanonicalID, err)
	}
	row.Details = data
	return row, nil
}

func (row recordRow) toRecord() (*models.ActivityRecord, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for record %s: %w", row.Amount, row.CanonicalID, err)
	}

	r := &models.ActivityRecord{
		CanonicalID:        row.CanonicalID,
		AccountID:          row.AccountID,
		IdentityID:         row.IdentityID,
		Amount:             amount,
		AmountSign:         models.AmountSign(row.AmountSign),
		Currency:           row.Currency,
		Type:               row.Type,
		SubType:            row.SubType,
		Status:             row.Status,
		AssetSymbol:        row.AssetSymbol,
		SecurityID:         row.SecurityID,
		UnifiedAccountType: row.UnifiedAccountType,
	}

	if row.AssetQuantity != nil {
		q, err := decimal.NewFromString(*row.AssetQuantity)
		if err != nil {
			return nil, fmt.Errorf("invalid asset quantity %q for record %s: %w", *row.AssetQuantity, row.CanonicalID, err)
		}
		r.AssetQuantity = decimal.NewNullDecimal(q)
	}

	if len(row.Details) > 0 {
		if err := json.Unmarshal(row.Details, &r.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details of %s: %w", row.CanonicalID, err)
		}
		if len(r.Details) == 0 {
			r.Details = nil
		}
	}
	return r, nil
}
