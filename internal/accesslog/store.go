package accesslog

import (
	"time"

	"gorm.io/gorm"

	"ai-gateway/internal/models"
)

// Store is the optional local access-log mirror the admin billing
// endpoints query, adapted from the teacher's RequestLog/DailyUsage
// persistence but keyed by DID and carrying the picoUSD/pricing-source
// fields this gateway's billing model needs.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.AccessLogRecord{}, &models.DailyDIDUsage{})
}

// Record persists one finalized request. It is called after Finalize
// so a storage failure never blocks the response already sent to the
// client.
func (s *Store) Record(rc *RequestContext) error {
	rec := models.AccessLogRecord{
		RequestID:    rc.RequestID,
		ClientTxRef:  rc.ClientTxRef,
		ServerTxRef:  rc.ServerTxRef,
		Method:       rc.Method,
		Path:         rc.Path,
		Provider:     rc.Provider,
		Model:        rc.Model,
		IsStream:     rc.IsStream,
		StatusCode:   rc.StatusCode,
		DurationMS:   time.Since(rc.StartTime).Milliseconds(),
		Truncated:    rc.Truncated,
		ErrorMessage: rc.ErrorMsg,
		CreatedAt:    time.Now(),
	}
	if rc.DIDInfo != nil {
		rec.DID = rc.DIDInfo.DID
	}
	if rc.Usage != nil {
		rec.InputTokens = rc.Usage.PromptTokens
		rec.OutputTokens = rc.Usage.CompletionTokens
		rec.TotalTokens = rc.Usage.TotalTokens
	}
	if rc.CostResult != nil {
		rec.TotalCostUSD = rc.CostResult.CostUSD
		rec.PricingSource = string(rc.CostResult.Source)
		rec.PricingVersion = rc.CostResult.PricingVersion
	}
	rec.BilledPicoUSD = rc.BillingOut

	if err := s.db.Create(&rec).Error; err != nil {
		return err
	}
	return s.rollupDaily(rec)
}

func (s *Store) rollupDaily(rec models.AccessLogRecord) error {
	if rec.DID == "" {
		return nil
	}
	date := rec.CreatedAt.Truncate(24 * time.Hour)

	var existing models.DailyDIDUsage
	err := s.db.Where("did = ? AND date = ?", rec.DID, date).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&models.DailyDIDUsage{
			DID:            rec.DID,
			Date:           date,
			TotalRequests:  1,
			TotalPicoUSD:   rec.BilledPicoUSD,
			TotalInTokens:  rec.InputTokens,
			TotalOutTokens: rec.OutputTokens,
		}).Error
	}
	if err != nil {
		return err
	}

	return s.db.Model(&existing).Updates(map[string]any{
		"total_requests":   gorm.Expr("total_requests + 1"),
		"total_pico_usd":   gorm.Expr("total_pico_usd + ?", rec.BilledPicoUSD),
		"total_in_tokens":  gorm.Expr("total_in_tokens + ?", rec.InputTokens),
		"total_out_tokens": gorm.Expr("total_out_tokens + ?", rec.OutputTokens),
	}).Error
}

// BillingSummary is one row of GET /api/v1/admin/billing/summary: a
// per-DID rollup over the requested window.
type BillingSummary struct {
	DID           string `json:"did"`
	TotalRequests int    `json:"total_requests"`
	TotalPicoUSD  int64  `json:"total_pico_usd"`
}

func (s *Store) BillingSummary(since time.Time) ([]BillingSummary, error) {
	var rows []BillingSummary
	err := s.db.Model(&models.AccessLogRecord{}).
		Select("did, COUNT(*) as total_requests, COALESCE(SUM(billed_pico_usd), 0) as total_pico_usd").
		Where("created_at >= ? AND did != ''", since).
		Group("did").
		Order("total_pico_usd DESC").
		Scan(&rows).Error
	return rows, err
}

// RecentRecords returns the most recent access-log rows, optionally
// filtered to one DID, for GET /api/v1/admin/billing/recent.
func (s *Store) RecentRecords(did string, limit int) ([]models.AccessLogRecord, error) {
	var rows []models.AccessLogRecord
	q := s.db.Order("created_at DESC").Limit(limit)
	if did != "" {
		q = q.Where("did = ?", did)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// Cleanup deletes access-log rows older than olderThan, for
// POST /api/v1/admin/billing/cleanup.
func (s *Store) Cleanup(olderThan time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", olderThan).Delete(&models.AccessLogRecord{})
	return res.RowsAffected, res.Error
}
