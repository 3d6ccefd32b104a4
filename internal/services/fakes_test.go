package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/prudhvinik1/divsync/internal/repositories"
	"github.com/shopspring/decimal"
)

type fakeCredentials struct {
	cred *models.Credential
	err  error
}

func (f *fakeCredentials) Resolve(ctx context.Context) (*models.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.cred == nil {
		return nil, ErrNoCredential
	}
	return f.cred, nil
}

func signedIn() *fakeCredentials {
	return &fakeCredentials{cred: &models.Credential{AccessToken: "token", IdentityID: "identity-1"}}
}

func signedOut() *fakeCredentials {
	return &fakeCredentials{}
}

type fakePage struct {
	records []*models.ActivityRecord
	next    *string
	err     error
}

// fakeFeedClient serves scripted activity pages in order and records every
// query it receives.
type fakeFeedClient struct {
	mu          sync.Mutex
	accounts    []*models.Account
	accountsErr error
	pages       []fakePage
	queries     []ActivityQuery
}

func (f *fakeFeedClient) FetchAccounts(ctx context.Context, cred *models.Credential) ([]*models.Account, error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	out := make([]*models.Account, len(f.accounts))
	for i, a := range f.accounts {
		c := *a
		out[i] = &c
	}
	return out, nil
}

func (f *fakeFeedClient) FetchActivityPage(ctx context.Context, cred *models.Credential, q ActivityQuery) (*ActivityPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.queries)
	f.queries = append(f.queries, q)
	if i >= len(f.pages) {
		return nil, fmt.Errorf("unexpected page request %d", i+1)
	}
	p := f.pages[i]
	if p.err != nil {
		return nil, p.err
	}
	records := make([]*models.ActivityRecord, len(p.records))
	for j, r := range p.records {
		c := *r
		records[j] = &c
	}
	return &ActivityPage{Records: records, NextCursor: p.next}, nil
}

func (f *fakeFeedClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// recordingStore wraps a RecordStore to observe watermark writes and inject
// failures.
type recordingStore struct {
	repositories.RecordStore
	watermarks []models.SyncWatermark
	upsertErr  error
}

func (s *recordingStore) SetWatermark(ctx context.Context, w *models.SyncWatermark) error {
	s.watermarks = append(s.watermarks, *w)
	return s.RecordStore.SetWatermark(ctx, w)
}

func (s *recordingStore) UpsertRecords(ctx context.Context, records []*models.ActivityRecord) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.RecordStore.UpsertRecords(ctx, records)
}

var errBoom = errors.New("boom")

func record(id, accountID string, occurredAt time.Time) *models.ActivityRecord {
	return &models.ActivityRecord{
		CanonicalID: id,
		AccountID:   accountID,
		OccurredAt:  occurredAt,
		Amount:      decimal.RequireFromString("1.00"),
		AmountSign:  models.AmountPositive,
		Currency:    "CAD",
		Type:        "DIVIDEND",
	}
}

func cursor(s string) *string {
	return &s
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func recordIDs(records []*models.ActivityRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.CanonicalID
	}
	return ids
}
