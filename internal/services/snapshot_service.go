package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/prudhvinik1/divsync/internal/repositories"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSnapshotTTL = 10 * time.Minute

	// One host serves one signed-in identity, so the snapshot lives under a
	// single key and carries the identity it was built for.
	snapshotCacheKey = "current"

	snapshotFetchConcurrency = 4
)

type SnapshotServiceConfig struct {
	Cache       repositories.SnapshotCache
	Credentials CredentialProvider
	Client      SnapshotClient

	TTL             time.Duration
	FreshnessWindow time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// SnapshotService builds the balances and positions view, cached for TTL.
type SnapshotService struct {
	cache       repositories.SnapshotCache
	credentials CredentialProvider
	client      SnapshotClient

	ttl             time.Duration
	freshnessWindow time.Duration

	logger *slog.Logger
	now    func() time.Time
}

func NewSnapshotService(cfg SnapshotServiceConfig) (*SnapshotService, error) {
	if cfg.Cache == nil {
		return nil, errors.New("snapshot cache is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential provider is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("snapshot client is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSnapshotTTL
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

	return &SnapshotService{
		cache:           cfg.Cache,
		credentials:     cfg.Credentials,
		client:          cfg.Client,
		ttl:             cfg.TTL,
		freshnessWindow: cfg.FreshnessWindow,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}, nil
}

func (s *SnapshotService) GetSnapshot(ctx context.Context) (*models.FinancialSnapshot, error) {
	cached, err := s.cache.Get(ctx, snapshotCacheKey)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cached snapshot: %w", err)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		cached = nil
	}

	now := s.now()

	cred, err := s.credentials.Resolve(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			return nil, err
		}
		if cached == nil {
			return &models.FinancialSnapshot{NeedsCredential: true}, nil
		}
		cached.Stale = now.Sub(cached.CreatedAt) > s.freshnessWindow
		return cached, nil
	}

	if cached != nil && cached.IdentityID == cred.IdentityID && now.Sub(cached.CreatedAt) < s.ttl {
		cached.Stale = false
		return cached, nil
	}

	snapshot, err := s.build(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: build snapshot: %w", ErrRemoteFailure, err)
	}
	snapshot.IdentityID = cred.IdentityID
	snapshot.CreatedAt = now

	if err := s.cache.Set(ctx, snapshotCacheKey, snapshot); err != nil {
		return nil, fmt.Errorf("failed to cache snapshot: %w", err)
	}
	s.logger.Info("snapshot refreshed",
		"cash_accounts", len(snapshot.CashAccounts),
		"managed_positions", len(snapshot.ManagedPositions),
		"trade_positions", len(snapshot.TradePositions),
	)
	return snapshot, nil
}

func (s *SnapshotService) build(ctx context.Context, cred *models.Credential) (*models.FinancialSnapshot, error) {
	financials, err := s.client.FetchAccountFinancials(ctx, cred)
	if err != nil {
		return nil, err
	}

	var cash []AccountFinancials
	var managed []models.Account
	accounts := make(map[string]models.Account, len(financials))
	for _, f := range financials {
		accounts[f.Account.ID] = f.Account
		if !f.Account.IsOpen() {
			continue
		}
		switch {
		case isCashAccount(f.Account):
			cash = append(cash, f)
		case isManagedAccount(f.Account):
			managed = append(managed, f.Account)
		}
	}

	cashSnapshots := make([]models.CashAccountSnapshot, len(cash))
	managedPositions := make([][]models.ManagedPosition, len(managed))
	var tradePositions []models.TradePosition

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotFetchConcurrency)

	for i, f := range cash {
		g.Go(func() error {
			rates, err := s.client.FetchInterestRates(gctx, cred, f.Account.ID)
			if err != nil {
				return fmt.Errorf("interest rate of %s: %w", f.Account.ID, err)
			}
			cashSnapshots[i] = models.CashAccountSnapshot{
				Account:         f.Account,
				Balance:         f.NetLiquidationValue,
				CADInterestRate: rates.CAD,
				USDInterestRate: rates.USD,
			}
			return nil
		})
	}
	for i, a := range managed {
		g.Go(func() error {
			positions, err := s.client.FetchManagedPositions(gctx, cred, a.ID)
			if err != nil {
				return fmt.Errorf("positions of %s: %w", a.ID, err)
			}
			managedPositions[i] = positions
			return nil
		})
	}
	g.Go(func() error {
		positions, err := s.client.FetchTradePositions(gctx, cred)
		if err != nil {
			return fmt.Errorf("trade positions: %w", err)
		}
		tradePositions = positions
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := &models.FinancialSnapshot{
		CashAccounts:     cashSnapshots,
		ManagedPositions: []models.ManagedPosition{},
		TradePositions:   []models.TradePosition{},
	}
	for i, positions := range managedPositions {
		account := managed[i]
		for _, p := range positions {
			if !keepManagedPosition(p) {
				continue
			}
			p.Account = &account
			snapshot.ManagedPositions = append(snapshot.ManagedPositions, p)
		}
	}
	for _, p := range tradePositions {
		if !keepTradePosition(p) {
			continue
		}
		if a, ok := accounts[p.AccountID]; ok {
			p.Account = &a
		}
		snapshot.TradePositions = append(snapshot.TradePositions, p)
	}
	return snapshot, nil
}

func isCashAccount(a models.Account) bool {
	return strings.EqualFold(a.UnifiedAccountType, "CASH") || strings.Contains(a.ID, "ca-cash")
}

func isManagedAccount(a models.Account) bool {
	return strings.Contains(strings.ToUpper(a.UnifiedAccountType), "MANAGED")
}

func keepManagedPosition(p models.ManagedPosition) bool {
	if p.Quantity.IsZero() || p.Symbol == "" {
		return false
	}
	return !strings.EqualFold(p.Type, "currency")
}

func keepTradePosition(p models.TradePosition) bool {
	if !p.Active || p.Quantity.IsZero() || p.Symbol == "" {
		return false
	}
	return !strings.EqualFold(p.SecurityType, "option")
}
