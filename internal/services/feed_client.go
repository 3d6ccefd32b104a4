package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	apiVersionHeader = "X-Ws-Api-Version"
	apiVersion       = "12"
	profileHeader    = "X-Ws-Profile"
	profile          = "invest"

	accountsPageSize = 25
)

// ActivityQuery selects one page of the activity feed. Results are ordered by
// occurredAt, newest first.
type ActivityQuery struct {
	AccountIDs []string
	Types      []string
	EndDate    time.Time
	Cursor     *string
	PageSize   int
}

type ActivityPage struct {
	Records []*models.ActivityRecord
	// Nil when this is the last page.
	NextCursor *string
}

// FeedClient is the part of the remote API the sync engine depends on.
type FeedClient interface {
	FetchAccounts(ctx context.Context, cred *models.Credential) ([]*models.Account, error)
	FetchActivityPage(ctx context.Context, cred *models.Credential, q ActivityQuery) (*ActivityPage, error)
}

type AccountFinancials struct {
	Account             models.Account
	NetLiquidationValue *models.Money
}

type InterestRates struct {
	CAD decimal.Decimal
	USD decimal.Decimal
}

// SnapshotClient is the part of the remote API the snapshot service depends on.
type SnapshotClient interface {
	FetchAccountFinancials(ctx context.Context, cred *models.Credential) ([]AccountFinancials, error)
	FetchInterestRates(ctx context.Context, cred *models.Credential, accountID string) (*InterestRates, error)
	FetchManagedPositions(ctx context.Context, cred *models.Credential, accountID string) ([]models.ManagedPosition, error)
	FetchTradePositions(ctx context.Context, cred *models.Credential) ([]models.TradePosition, error)
}

type GraphQLClientConfig struct {
	GraphQLURL      string
	TradeServiceURL string
	HTTPClient      *http.Client
	// Requests per second across all calls; zero disables limiting.
	RatePerSecond float64
	RateBurst     int
	Logger        *slog.Logger
}

// GraphQLFeedClient talks to the remote GraphQL endpoint and the REST trade
// service. It never retries; a failed call surfaces to the caller.
type GraphQLFeedClient struct {
	graphQLURL string
	tradeURL   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewGraphQLFeedClient(cfg GraphQLClientConfig) *GraphQLFeedClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GraphQLFeedClient{
		graphQLURL: strings.TrimSpace(cfg.GraphQLURL),
		tradeURL:   strings.TrimRight(strings.TrimSpace(cfg.TradeServiceURL), "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

const activityFeedQuery = `query FetchActivityFeedItems($first: Int, $cursor: Cursor, $condition: ActivityCondition, $orderBy: [ActivitiesOrderBy!] = OCCURRED_AT_DESC) {
  activityFeedItems(first: $first, after: $cursor, condition: $condition, orderBy: $orderBy) {
    edges {
      node {
        accountId aftOriginatorName aftTransactionCategory aftTransactionType amount amountSign
        assetQuantity assetSymbol canonicalId currency eTransferEmail eTransferName externalCanonicalId
        identityId institutionName occurredAt p2pHandle p2pMessage spendMerchant securityId
        billPayCompanyName billPayPayeeNickname redactedExternalAccountNumber opposingAccountId
        status subType type strikePrice contractType expiryDate chequeNumber provisionalCreditAmount
        primaryBlocker interestRate frequency counterAssetSymbol rewardProgram counterPartyCurrency
        counterPartyCurrencyAmount counterPartyName fxRate fees reference
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const accountsQuery = `query FetchAllAccountFinancials($identityId: ID!, $pageSize: Int = 25, $cursor: String) {
  identity(id: $identityId) {
    id
    accounts(filter: {}, first: $pageSize, after: $cursor) {
      pageInfo { hasNextPage endCursor }
      edges {
        node {
          id type unifiedAccountType currency nickname status
          financials { currentCombined { netLiquidationValue { amount currency } } }
        }
      }
    }
  }
}`

const interestRateQuery = `query FetchAccountInterestRate($accountId: ID!) {
  account(id: $accountId) {
    id
    interestRate: interest_rate { appliedRates { cadInterestRate usdInterestRate } }
  }
}`

const managedPositionsQuery = `query FetchAccountManagedPortfolioPositions($accountId: ID!) {
  account(id: $accountId) {
    id
    positions { id allocation currency name symbol type value category quantity }
  }
}`

// Remote fields that are not part of the record's core shape; they are kept
// verbatim in ActivityRecord.Details when present.
var detailFields = []string{
	"aftOriginatorName", "aftTransactionCategory", "aftTransactionType",
	"eTransferEmail", "eTransferName", "externalCanonicalId", "institutionName",
	"p2pHandle", "p2pMessage", "spendMerchant", "billPayCompanyName",
	"billPayPayeeNickname", "redactedExternalAccountNumber", "opposingAccountId",
	"strikePrice", "contractType", "expiryDate", "chequeNumber",
	"provisionalCreditAmount", "primaryBlocker", "interestRate", "frequency",
	"counterAssetSymbol", "rewardProgram", "counterPartyCurrency",
	"counterPartyCurrencyAmount", "counterPartyName", "fxRate", "fees", "reference",
}

type activityNode struct {
	CanonicalID   string  `json:"canonicalId"`
	AccountID     string  `json:"accountId"`
	IdentityID    *string `json:"identityId"`
	OccurredAt    string  `json:"occurredAt"`
	Amount        *string `json:"amount"`
	AmountSign    string  `json:"amountSign"`
	Currency      string  `json:"currency"`
	Type          string  `json:"type"`
	SubType       *string `json:"subType"`
	Status        *string `json:"status"`
	AssetSymbol   *string `json:"assetSymbol"`
	AssetQuantity *string `json:"assetQuantity"`
	SecurityID    *string `json:"securityId"`

	details map[string]string
}

func (n *activityNode) UnmarshalJSON(data []byte) error {
	type plain activityNode
	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, name := range detailFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil || v == nil || *v == "" {
			continue
		}
		if n.details == nil {
			n.details = make(map[string]string)
		}
		n.details[name] = *v
	}
	return nil
}

func (n *activityNode) toRecord() (*models.ActivityRecord, error) {
	if n.CanonicalID == "" {
		return nil, errors.New("missing canonicalId")
	}
	if n.AccountID == "" {
		return nil, fmt.Errorf("record %s: missing accountId", n.CanonicalID)
	}
	if n.Currency == "" || n.Type == "" {
		return nil, fmt.Errorf("record %s: missing currency or type", n.CanonicalID)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, n.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid occurredAt %q", n.CanonicalID, n.OccurredAt)
	}
	if n.Amount == nil {
		return nil, fmt.Errorf("record %s: missing amount", n.CanonicalID)
	}
	amount, err := decimal.NewFromString(*n.Amount)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid amount %q", n.CanonicalID, *n.Amount)
	}

	sign := models.AmountSign(strings.ToLower(n.AmountSign))
	if sign != models.AmountPositive && sign != models.AmountNegative {
		return nil, fmt.Errorf("record %s: invalid amountSign %q", n.CanonicalID, n.AmountSign)
	}

	r := &models.ActivityRecord{
		CanonicalID: n.CanonicalID,
		AccountID:   n.AccountID,
		IdentityID:  deref(n.IdentityID),
		OccurredAt:  occurredAt,
		Amount:      amount,
		AmountSign:  sign,
		Currency:    n.Currency,
		Type:        n.Type,
		SubType:     deref(n.SubType),
		Status:      deref(n.Status),
		AssetSymbol: deref(n.AssetSymbol),
		SecurityID:  deref(n.SecurityID),
		Details:     n.details,
	}
	if n.AssetQuantity != nil && *n.AssetQuantity != "" {
		q, err := decimal.NewFromString(*n.AssetQuantity)
		if err != nil {
			return nil, fmt.Errorf("record %s: invalid assetQuantity %q", n.CanonicalID, *n.AssetQuantity)
		}
		r.AssetQuantity = decimal.NewNullDecimal(q)
	}
	return r, nil
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

type activityFeedData struct {
	ActivityFeedItems *struct {
		Edges []struct {
			Node activityNode `json:"node"`
		} `json:"edges"`
		PageInfo *pageInfo `json:"pageInfo"`
	} `json:"activityFeedItems"`
}

func (c *GraphQLFeedClient) FetchActivityPage(ctx context.Context, cred *models.Credential, q ActivityQuery) (*ActivityPage, error) {
	condition := map[string]any{
		"accountIds": q.AccountIDs,
		"types":      q.Types,
		"endDate":    q.EndDate.UTC().Format(time.RFC3339),
	}
	variables := map[string]any{
		"first":     q.PageSize,
		"condition": condition,
		"orderBy":   "OCCURRED_AT_DESC",
	}
	if q.Cursor != nil {
		variables["cursor"] = *q.Cursor
	}

	var data activityFeedData
	if err := c.query(ctx, cred, "FetchActivityFeedItems", activityFeedQuery, variables, &data); err != nil {
		return nil, err
	}
	if data.ActivityFeedItems == nil || data.ActivityFeedItems.PageInfo == nil {
		return nil, fmt.Errorf("%w: activity feed without edges or pageInfo", ErrMalformedResponse)
	}

	page := &ActivityPage{Records: make([]*models.ActivityRecord, 0, len(data.ActivityFeedItems.Edges))}
	for i := range data.ActivityFeedItems.Edges {
		record, err := data.ActivityFeedItems.Edges[i].Node.toRecord()
		if err != nil {
			return nil, fmt.Errorf("%w: edge %d: %v", ErrMalformedResponse, i, err)
		}
		page.Records = append(page.Records, record)
	}

	info := data.ActivityFeedItems.PageInfo
	if info.HasNextPage {
		if info.EndCursor == nil || *info.EndCursor == "" {
			return nil, fmt.Errorf("%w: hasNextPage without endCursor", ErrMalformedResponse)
		}
		page.NextCursor = info.EndCursor
	}
	return page, nil
}

type accountNode struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	UnifiedAccountType string  `json:"unifiedAccountType"`
	Currency           string  `json:"currency"`
	Nickname           *string `json:"nickname"`
	Status             string  `json:"status"`
	Financials         *struct {
		CurrentCombined *struct {
			NetLiquidationValue *models.Money `json:"netLiquidationValue"`
		} `json:"currentCombined"`
	} `json:"financials"`
}

type accountsData struct {
	Identity *struct {
		Accounts *struct {
			PageInfo pageInfo `json:"pageInfo"`
			Edges    []struct {
				Node accountNode `json:"node"`
			} `json:"edges"`
		} `json:"accounts"`
	} `json:"identity"`
}

// fetchAccountNodes walks every page of the identity's accounts.
func (c *GraphQLFeedClient) fetchAccountNodes(ctx context.Context, cred *models.Credential) ([]accountNode, error) {
	var nodes []accountNode
	var cursor *string
	for {
		variables := map[string]any{
			"identityId": cred.IdentityID,
			"pageSize":   accountsPageSize,
		}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		var data accountsData
		if err := c.query(ctx, cred, "FetchAllAccountFinancials", accountsQuery, variables, &data); err != nil {
			return nil, err
		}
		if data.Identity == nil || data.Identity.Accounts == nil {
			return nil, fmt.Errorf("%w: identity without accounts", ErrMalformedResponse)
		}

		for _, edge := range data.Identity.Accounts.Edges {
			if edge.Node.ID == "" {
				return nil, fmt.Errorf("%w: account without id", ErrMalformedResponse)
			}
			nodes = append(nodes, edge.Node)
		}

		info := data.Identity.Accounts.PageInfo
		if !info.HasNextPage || info.EndCursor == nil {
			return nodes, nil
		}
		if cursor != nil && *cursor == *info.EndCursor {
			return nil, fmt.Errorf("accounts: %w", ErrCursorStalled)
		}
		cursor = info.EndCursor
	}
}

func (n accountNode) toAccount() models.Account {
	return models.Account{
		ID:                 n.ID,
		Type:               n.Type,
		UnifiedAccountType: n.UnifiedAccountType,
		Currency:           n.Currency,
		Nickname:           deref(n.Nickname),
		Status:             n.Status,
	}
}

// FetchAccounts returns every account of the identity, open or not.
func (c *GraphQLFeedClient) FetchAccounts(ctx context.Context, cred *models.Credential) ([]*models.Account, error) {
	nodes, err := c.fetchAccountNodes(ctx, cred)
	if err != nil {
		return nil, err
	}
	accounts := make([]*models.Account, 0, len(nodes))
	for _, n := range nodes {
		a := n.toAccount()
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

func (c *GraphQLFeedClient) FetchAccountFinancials(ctx context.Context, cred *models.Credential) ([]AccountFinancials, error) {
	nodes, err := c.fetchAccountNodes(ctx, cred)
	if err != nil {
		return nil, err
	}
	out := make([]AccountFinancials, 0, len(nodes))
	for _, n := range nodes {
		f := AccountFinancials{Account: n.toAccount()}
		if n.Financials != nil && n.Financials.CurrentCombined != nil {
			f.NetLiquidationValue = n.Financials.CurrentCombined.NetLiquidationValue
		}
		out = append(out, f)
	}
	return out, nil
}

func (c *GraphQLFeedClient) FetchInterestRates(ctx context.Context, cred *models.Credential, accountID string) (*InterestRates, error) {
	var data struct {
		Account *struct {
			InterestRate *struct {
				AppliedRates *struct {
					CAD decimal.Decimal `json:"cadInterestRate"`
					USD decimal.Decimal `json:"usdInterestRate"`
				} `json:"appliedRates"`
			} `json:"interestRate"`
		} `json:"account"`
	}
	err := c.query(ctx, cred, "FetchAccountInterestRate", interestRateQuery, map[string]any{"accountId": accountID}, &data)
	if err != nil {
		return nil, err
	}
	if data.Account == nil {
		return nil, fmt.Errorf("%w: no account %s", ErrMalformedResponse, accountID)
	}

	rates := &InterestRates{}
	if ir := data.Account.InterestRate; ir != nil && ir.AppliedRates != nil {
		rates.CAD = ir.AppliedRates.CAD
		rates.USD = ir.AppliedRates.USD
	}
	return rates, nil
}

func (c *GraphQLFeedClient) FetchManagedPositions(ctx context.Context, cred *models.Credential, accountID string) ([]models.ManagedPosition, error) {
	var data struct {
		Account *struct {
			Positions []models.ManagedPosition `json:"positions"`
		} `json:"account"`
	}
	err := c.query(ctx, cred, "FetchAccountManagedPortfolioPositions", managedPositionsQuery, map[string]any{"accountId": accountID}, &data)
	if err != nil {
		return nil, err
	}
	if data.Account == nil {
		return nil, fmt.Errorf("%w: no account %s", ErrMalformedResponse, accountID)
	}

	for i := range data.Account.Positions {
		data.Account.Positions[i].AccountID = accountID
	}
	return data.Account.Positions, nil
}

type tradePositionResult struct {
	ID        string          `json:"id"`
	SecID     string          `json:"sec_id"`
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Quantity  decimal.Decimal `json:"quantity"`
	Type      string          `json:"type"`
	Active    *bool           `json:"active"`
	Stock     struct {
		Symbol          string `json:"symbol"`
		Name            string `json:"name"`
		PrimaryExchange string `json:"primary_exchange"`
	} `json:"stock"`
}

// FetchTradePositions reads self-directed positions from the REST trade service.
func (c *GraphQLFeedClient) FetchTradePositions(ctx context.Context, cred *models.Credential) ([]models.TradePosition, error) {
	var body struct {
		Results []tradePositionResult `json:"results"`
	}
	if err := c.doJSON(ctx, cred, http.MethodGet, c.tradeURL+"/account/positions", nil, &body); err != nil {
		return nil, err
	}

	positions := make([]models.TradePosition, 0, len(body.Results))
	for _, r := range body.Results {
		id := r.ID
		if id == "" {
			id = r.SecID
		}
		positions = append(positions, models.TradePosition{
			ID:           id,
			AccountID:    r.AccountID,
			Symbol:       r.Stock.Symbol,
			Name:         r.Stock.Name,
			Exchange:     r.Stock.PrimaryExchange,
			SecurityType: r.Type,
			Currency:     r.Currency,
			Quantity:     r.Quantity,
			Active:       r.Active == nil || *r.Active,
		})
	}
	return positions, nil
}

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *GraphQLFeedClient) query(ctx context.Context, cred *models.Credential, operation, query string, variables map[string]any, out any) error {
	req := graphQLRequest{OperationName: operation, Variables: variables, Query: query}

	var resp graphQLResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, c.graphQLURL, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, operation, strings.Join(msgs, "; "))
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("%w: %s: no data", ErrMalformedResponse, operation)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, operation, err)
	}
	return nil
}

func (c *GraphQLFeedClient) doJSON(ctx context.Context, cred *models.Credential, method, url string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	correlationID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("X-Correlation-Id", correlationID)
	req.Header.Set(apiVersionHeader, apiVersion)
	req.Header.Set(profileHeader, profile)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.logger.Debug("remote call",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"correlation_id", correlationID,
		"duration", time.Since(start),
	)
	if readErr != nil {
		return fmt.Errorf("failed to read response: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
