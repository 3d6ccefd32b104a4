package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/prudhvinik1/divsync/internal/repositories"
)

const (
	DefaultFreshnessWindow = 24 * time.Hour
	DefaultPageSize        = 50
	MaxPageSize            = 100
)

// CredentialProvider yields the current credential or an error wrapping
// ErrNoCredential.
type CredentialProvider interface {
	Resolve(ctx context.Context) (*models.Credential, error)
}

type SyncEngineConfig struct {
	Store       repositories.RecordStore
	Credentials CredentialProvider
	Client      FeedClient

	// Raw remote activity types the feed is filtered on.
	ActivityTypes []string
	PageSize      int
	// Zero means no limit.
	MaxPages        int
	FreshnessWindow time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// SyncEngine serves the activity feed from the local store and tops it up
// incrementally from the remote API.
type SyncEngine struct {
	store       repositories.RecordStore
	credentials CredentialProvider
	client      FeedClient

	activityTypes   []string
	pageSize        int
	maxPages        int
	freshnessWindow time.Duration

	logger *slog.Logger
	now    func() time.Time
}

func NewSyncEngine(cfg SyncEngineConfig) (*SyncEngine, error) {
	if cfg.Store == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential provider is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("feed client is required")
	}
	if len(cfg.ActivityTypes) == 0 {
		return nil, errors.New("at least one activity type is required")
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size must be between 1 and %d, got %d", MaxPageSize, cfg.PageSize)
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must not be negative, got %d", cfg.MaxPages)
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SyncEngine{
		store:           cfg.Store,
		credentials:     cfg.Credentials,
		client:          cfg.Client,
		activityTypes:   slices.Clone(cfg.ActivityTypes),
		pageSize:        cfg.PageSize,
		maxPages:        cfg.MaxPages,
		freshnessWindow: cfg.FreshnessWindow,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}, nil
}

// GetFeed returns the merged activity feed. Without a credential it serves
// whatever is cached; with one it syncs everything newer than the watermark
// unless the watermark is still fresh.
func (e *SyncEngine) GetFeed(ctx context.Context) (*models.FeedResult, error) {
	watermark, err := e.store.GetWatermark(ctx)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		watermark = nil
	}

	cached, err := e.store.GetAllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached records: %w", err)
	}

	now := e.now()
	stale := watermark.IsStale(now, e.freshnessWindow)

	cred, err := e.credentials.Resolve(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			return nil, err
		}
		if len(cached) == 0 {
			e.logger.Info("no credential and nothing cached")
			return &models.FeedResult{Records: []*models.ActivityRecord{}, NeedsCredential: true}, nil
		}
		e.logger.Info("no credential, serving cached feed", "records", len(cached), "stale", stale)
		return e.cachedResult(ctx, cached, stale)
	}

	if watermark != nil && !stale && !watermark.Resuming() {
		e.logger.Debug("watermark is fresh, skipping sync", "age", watermark.Age(now))
		return e.cachedResult(ctx, cached, false)
	}

	fetched, complete, err := e.sync(ctx, cred, watermark, now)
	if err != nil {
		return nil, err
	}

	accounts, err := e.store.GetAllAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	merged := mergeRecords(cached, fetched)
	annotateRecords(merged, accounts)

	result := &models.FeedResult{Records: merged, Stale: !complete}
	if len(merged) > 0 {
		result.FilterValues = BuildFilterValues(accounts, merged)
	}
	return result, nil
}

// Reset clears the local store; the next GetFeed with a credential performs a
// full sync.
func (e *SyncEngine) Reset(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	e.logger.Info("local store reset")
	return nil
}

// sync pages through the remote feed newest first until it reaches the record
// the previous sync was anchored on or the feed ends. Each page is stored as
// it arrives; the watermark is only advanced after the last page. When the
// page limit cuts the sync short it reports complete=false and leaves a resume
// cursor behind, so the gap down to the old anchor is fetched next time.
func (e *SyncEngine) sync(ctx context.Context, cred *models.Credential, watermark *models.SyncWatermark, now time.Time) (fetched []*models.ActivityRecord, complete bool, err error) {
	logger := e.logger.With("sync_id", uuid.NewString())

	accounts, err := e.client.FetchAccounts(ctx, cred)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fetch accounts: %w", ErrRemoteFailure, err)
	}
	if err := e.store.UpsertAccounts(ctx, accounts); err != nil {
		return nil, false, fmt.Errorf("failed to store accounts: %w", err)
	}

	accountIDs := make([]string, 0, len(accounts))
	byID := make(map[string]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
		if a.IsOpen() {
			accountIDs = append(accountIDs, a.ID)
		}
	}
	logger.Info("sync started", "open_accounts", len(accountIDs), "has_watermark", watermark != nil, "resuming", watermark.Resuming())

	if len(accountIDs) == 0 {
		logger.Info("no open accounts, skipping activity feed")
		if err := e.store.SetWatermark(ctx, nextWatermark(watermark, nil, now)); err != nil {
			return nil, false, fmt.Errorf("failed to store watermark: %w", err)
		}
		return nil, true, nil
	}

	var (
		newest *models.ActivityRecord
		cursor *string
		pages  int
	)
	if watermark.Resuming() {
		resume := watermark.ResumeCursor
		cursor = &resume
		if watermark.PendingCanonicalID != "" {
			newest = &models.ActivityRecord{CanonicalID: watermark.PendingCanonicalID, AccountID: watermark.PendingAccountID}
		}
	}

	for {
		page, err := e.client.FetchActivityPage(ctx, cred, ActivityQuery{
			AccountIDs: accountIDs,
			Types:      e.activityTypes,
			EndDate:    now,
			Cursor:     cursor,
			PageSize:   e.pageSize,
		})
		if err != nil {
			logger.Warn("sync aborted", "pages", pages, "error", err)
			return nil, false, fmt.Errorf("%w: fetch activity page %d: %w", ErrRemoteFailure, pages+1, err)
		}
		pages++

		if newest == nil && len(page.Records) > 0 {
			newest = page.Records[0]
		}

		kept, reachedAnchor := truncateAtAnchor(page.Records, watermark)
		for _, r := range kept {
			if a, ok := byID[r.AccountID]; ok {
				r.UnifiedAccountType = a.UnifiedAccountType
			}
		}
		if err := e.store.UpsertRecords(ctx, kept); err != nil {
			return nil, false, fmt.Errorf("failed to store page %d: %w", pages, err)
		}
		fetched = append(fetched, kept...)

		if reachedAnchor || page.NextCursor == nil {
			break
		}
		if cursor != nil && *cursor == *page.NextCursor {
			return nil, false, fmt.Errorf("%w: %w after page %d", ErrRemoteFailure, ErrCursorStalled, pages)
		}
		if e.maxPages > 0 && pages >= e.maxPages {
			logger.Warn("page limit reached before the anchor, next sync resumes", "pages", pages, "new_records", len(fetched))
			if err := e.store.SetWatermark(ctx, resumeWatermark(watermark, newest, *page.NextCursor)); err != nil {
				return nil, false, fmt.Errorf("failed to store resume point: %w", err)
			}
			return fetched, false, nil
		}
		cursor = page.NextCursor
	}

	if err := e.store.SetWatermark(ctx, nextWatermark(watermark, newest, now)); err != nil {
		return nil, false, fmt.Errorf("failed to store watermark: %w", err)
	}
	logger.Info("sync finished", "pages", pages, "new_records", len(fetched))
	return fetched, true, nil
}

// truncateAtAnchor returns the records before the watermark's anchor and
// whether the anchor was found on this page.
func truncateAtAnchor(records []*models.ActivityRecord, watermark *models.SyncWatermark) ([]*models.ActivityRecord, bool) {
	if watermark == nil {
		return records, false
	}
	for i, r := range records {
		if r.SameAnchor(watermark) {
			return records[:i], true
		}
	}
	return records, false
}

// nextWatermark anchors on the newest record of the first page and never moves
// the timestamp backwards. With an empty feed the previous anchor is kept and
// only the timestamp advances. An empty feed with no previous anchor yields an
// anchorless watermark, which still counts for freshness.
func nextWatermark(prev *models.SyncWatermark, newest *models.ActivityRecord, now time.Time) *models.SyncWatermark {
	ts := now
	if prev != nil && prev.Timestamp.After(ts) {
		ts = prev.Timestamp
	}

	switch {
	case newest != nil:
		return &models.SyncWatermark{CanonicalID: newest.CanonicalID, AccountID: newest.AccountID, Timestamp: ts}
	case prev != nil:
		return &models.SyncWatermark{CanonicalID: prev.CanonicalID, AccountID: prev.AccountID, Timestamp: ts}
	default:
		return &models.SyncWatermark{Timestamp: ts}
	}
}

// resumeWatermark keeps the previous anchor and timestamp and records where to
// continue paging, plus the newest record seen so far as the anchor to adopt
// once the gap is closed.
func resumeWatermark(prev *models.SyncWatermark, newest *models.ActivityRecord, next string) *models.SyncWatermark {
	w := &models.SyncWatermark{ResumeCursor: next}
	if prev != nil {
		w.CanonicalID = prev.CanonicalID
		w.AccountID = prev.AccountID
		w.Timestamp = prev.Timestamp
	}
	if newest != nil {
		w.PendingCanonicalID = newest.CanonicalID
		w.PendingAccountID = newest.AccountID
	}
	return w
}

// mergeRecords unions cached and fetched by canonical id, preferring fetched,
// and orders the result newest first.
func mergeRecords(cached, fetched []*models.ActivityRecord) []*models.ActivityRecord {
	byID := make(map[string]*models.ActivityRecord, len(cached)+len(fetched))
	for _, r := range cached {
		byID[r.CanonicalID] = r
	}
	for _, r := range fetched {
		byID[r.CanonicalID] = r
	}

	merged := make([]*models.ActivityRecord, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	models.SortByOccurredDesc(merged)
	return merged
}

func annotateRecords(records []*models.ActivityRecord, accounts []*models.Account) {
	byID := make(map[string]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	for _, r := range records {
		if r.UnifiedAccountType != "" {
			continue
		}
		if a, ok := byID[r.AccountID]; ok {
			r.UnifiedAccountType = a.UnifiedAccountType
		}
	}
}

func (e *SyncEngine) cachedResult(ctx context.Context, cached []*models.ActivityRecord, stale bool) (*models.FeedResult, error) {
	accounts, err := e.store.GetAllAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	records := slices.Clone(cached)
	models.SortByOccurredDesc(records)
	annotateRecords(records, accounts)

	result := &models.FeedResult{Records: records, Stale: stale}
	if len(records) > 0 {
		result.FilterValues = BuildFilterValues(accounts, records)
	}
	return result, nil
}

// BuildFilterValues lists the accounts that appear in records, ordered by id,
// and the distinct asset symbols, sorted.
func BuildFilterValues(accounts []*models.Account, records []*models.ActivityRecord) *models.FilterValues {
	known := make(map[string]*models.Account, len(accounts))
	for _, a := range accounts {
		known[a.ID] = a
	}

	seenAccounts := make(map[string]models.FilterAccount)
	seenSymbols := make(map[string]struct{})
	for _, r := range records {
		if _, ok := seenAccounts[r.AccountID]; !ok {
			fa := models.FilterAccount{ID: r.AccountID, UnifiedAccountType: r.UnifiedAccountType}
			if a, ok := known[r.AccountID]; ok {
				fa.Type = a.Type
				fa.UnifiedAccountType = a.UnifiedAccountType
				fa.Nickname = a.Nickname
			}
			seenAccounts[r.AccountID] = fa
		}
		if symbol := strings.TrimSpace(r.AssetSymbol); symbol != "" {
			seenSymbols[symbol] = struct{}{}
		}
	}

	values := &models.FilterValues{
		UniqueAccounts: make([]models.FilterAccount, 0, len(seenAccounts)),
		Symbols:        make([]string, 0, len(seenSymbols)),
	}
	for _, fa := range seenAccounts {
		values.UniqueAccounts = append(values.UniqueAccounts, fa)
	}
	slices.SortFunc(values.UniqueAccounts, func(a, b models.FilterAccount) int {
		return strings.Compare(a.ID, b.ID)
	})
	for s := range seenSymbols {
		values.Symbols = append(values.Symbols, s)
	}
	slices.Sort(values.Symbols)
	return values
}
