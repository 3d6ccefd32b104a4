package repositories

import (
	"context"
	"maps"
	"sync"

	"github.com/prudhvinik1/divsync/internal/models"
)

// MemoryRecordStore keeps everything in process memory. Each instance is
// independent, which makes it the store of choice for tests.
type MemoryRecordStore struct {
	mu        sync.RWMutex
	records   map[string]models.ActivityRecord
	accounts  map[string]models.Account
	watermark *models.SyncWatermark
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records:  make(map[string]models.ActivityRecord),
		accounts: make(map[string]models.Account),
	}
}

func (s *MemoryRecordStore) GetWatermark(ctx context.Context) (*models.SyncWatermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.watermark == nil {
		return nil, ErrNotFound
	}
	w := *s.watermark
	return &w, nil
}

func (s *MemoryRecordStore) SetWatermark(ctx context.Context, watermark *models.SyncWatermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := *watermark
	s.watermark = &w
	return nil
}

func (s *MemoryRecordStore) GetAllRecords(ctx context.Context) ([]*models.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.ActivityRecord, 0, len(s.records))
	for _, r := range s.records {
		r.Details = maps.Clone(r.Details)
		records = append(records, &r)
	}
	return records, nil
}

func (s *MemoryRecordStore) UpsertRecords(ctx context.Context, records []*models.ActivityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		stored := *r
		stored.Details = maps.Clone(r.Details)
		s.records[r.CanonicalID] = stored
	}
	return nil
}

func (s *MemoryRecordStore) GetAllAccounts(ctx context.Context) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

func (s *MemoryRecordStore) UpsertAccounts(ctx context.Context, accounts []*models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		s.accounts[a.ID] = *a
	}
	return nil
}

func (s *MemoryRecordStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]models.ActivityRecord)
	s.accounts = make(map[string]models.Account)
	s.watermark = nil
	return nil
}
