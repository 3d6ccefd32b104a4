package models

// FeedResult is what the sync engine hands to presentation.
type FeedResult struct {
	Records         []*ActivityRecord `json:"feedItems"`
	Stale           bool              `json:"isOldData"`
	NeedsCredential bool              `json:"needLogin"`
	FilterValues    *FilterValues     `json:"filterValues,omitempty"`
}

type FilterAccount struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	UnifiedAccountType string `json:"unifiedAccountType"`
	Nickname           string `json:"nickname,omitempty"`
}

type FilterValues struct {
	UniqueAccounts []FilterAccount `json:"uniqueAccs"`
	Symbols        []string        `json:"symbols"`
}
