// Package models holds the GORM row types persisted by the optional
// local access-log mirror (internal/accesslog/store.go). The gateway
// itself is stateless with respect to any notion of a registered
// client or account — these rows exist purely so the admin billing
// endpoints have something to query.
package models

import "time"

// AccessLogRecord mirrors one accesslog.RequestContext after
// finalization, keyed by the caller's DID rather than a provisioned
// client row (the gateway has no account/registration concept).
type AccessLogRecord struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID       string    `gorm:"type:varchar(64);index" json:"request_id"`
	ClientTxRef     string    `gorm:"type:varchar(128)" json:"client_tx_ref"`
	ServerTxRef     string    `gorm:"type:varchar(128)" json:"server_tx_ref"`
	DID             string    `gorm:"type:varchar(255);index" json:"did"`
	Method          string    `gorm:"type:varchar(10)" json:"method"`
	Path            string    `gorm:"type:varchar(255)" json:"path"`
	Provider        string    `gorm:"type:varchar(50);index" json:"provider"`
	Model           string    `gorm:"type:varchar(100);index" json:"model"`
	IsStream        bool      `json:"is_stream"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	TotalTokens     int       `json:"total_tokens"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	BilledPicoUSD   int64     `json:"billed_pico_usd"`
	PricingSource   string    `gorm:"type:varchar(20)" json:"pricing_source"`
	PricingVersion  string    `gorm:"type:varchar(20)" json:"pricing_version"`
	StatusCode      int       `json:"status_code"`
	DurationMS      int64     `json:"duration_ms"`
	Truncated       bool      `json:"truncated"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// DailyDIDUsage is a daily rollup keyed by (did, date), analogous to
// the teacher's per-client DailyUsage but aggregated by DID and in
// picoUSD rather than token-only.
type DailyDIDUsage struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DID            string    `gorm:"type:varchar(255);uniqueIndex:idx_did_date" json:"did"`
	Date           time.Time `gorm:"uniqueIndex:idx_did_date;index" json:"date"`
	TotalRequests  int       `gorm:"default:0" json:"total_requests"`
	TotalPicoUSD   int64     `gorm:"default:0" json:"total_pico_usd"`
	TotalInTokens  int       `gorm:"default:0" json:"total_input_tokens"`
	TotalOutTokens int       `gorm:"default:0" json:"total_output_tokens"`
}
