package domain

import "time"

// CostRecord is one append-only usage ledger entry, written after every
// successful model call.
type CostRecord struct {
	UserID         string
	ManuscriptID   string
	OperationGroup string
	Operation      string
	Agent          string
	Model          string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	CreatedAt      time.Time
}

// UsageSummary is the per-user rollup served by the usage endpoint.
type UsageSummary struct {
	UserID       string  `json:"userId"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalCostUSD float64 `json:"totalCostUsd"`
}
