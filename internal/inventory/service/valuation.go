package service

import (
	"context"
	"sort"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/shopspring/decimal"
)

// CategoryValuation is the stock held under one category.
type CategoryValuation struct {
	CategoryID   *string         `json:"category_id"`
	CategoryName string          `json:"category_name"`
	ItemCount    int             `json:"item_count"`
	TotalStock   int             `json:"total_stock"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// ValuationReport aggregates the ledger at purchase price. The expiry and
// low-stock counts use the alert engine's classification.
type ValuationReport struct {
	TotalValue    decimal.Decimal      `json:"total_value"`
	TotalItems    int                  `json:"total_items"`
	TotalStock    int                  `json:"total_stock"`
	LowStockItems int                  `json:"low_stock_items"`
	ExpiringItems int                  `json:"expiring_items"`
	ExpiredItems  int                  `json:"expired_items"`
	Categories    []*CategoryValuation `json:"categories"`
	GeneratedAt   time.Time            `json:"generated_at"`
}

const uncategorized = "Uncategorized"

// ValuationReporter builds inventory value reports.
type ValuationReporter struct {
	deps   Deps
	logger *logger.Logger
}

// NewValuationReporter creates a new valuation reporter
func NewValuationReporter(deps Deps) *ValuationReporter {
	deps = deps.withDefaults()
	return &ValuationReporter{
		deps:   deps,
		logger: deps.Logger.WithComponent("valuation"),
	}
}

// Report returns the tenant's valuation, served from cache when fresh.
func (r *ValuationReporter) Report(ctx context.Context) (*ValuationReport, error) {
	key, cacheable := reportKey(ctx)
	if cacheable && r.deps.Cache != nil {
		var cached ValuationReport
		hit, err := r.deps.Cache.GetJSON(ctx, key, &cached)
		if err != nil {
			r.logger.Warn().Err(err).Msg("report cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	report, err := r.build(ctx)
	if err != nil {
		return nil, err
	}

	if cacheable && r.deps.Cache != nil && r.deps.Config.ReportCacheTTL > 0 {
		if err := r.deps.Cache.SetJSON(ctx, key, report, r.deps.Config.ReportCacheTTL); err != nil {
			r.logger.Warn().Err(err).Msg("report cache write failed")
		}
	}
	return report, nil
}

func (r *ValuationReporter) build(ctx context.Context) (*ValuationReport, error) {
	snap, err := loadSnapshot(ctx, r.deps)
	if err != nil {
		return nil, err
	}
	categories, err := r.deps.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	report := &ValuationReport{TotalValue: decimal.Zero, GeneratedAt: snap.now}
	buckets := map[string]*CategoryValuation{}
	bucket := func(categoryID *string) *CategoryValuation {
		key := ""
		if categoryID != nil {
			key = *categoryID
		}
		cv, ok := buckets[key]
		if !ok {
			cv = &CategoryValuation{CategoryName: uncategorized, TotalValue: decimal.Zero}
			if categoryID != nil {
				id := *categoryID
				cv.CategoryID = &id
				if name, ok := names[id]; ok {
					cv.CategoryName = name
				}
			}
			buckets[key] = cv
		}
		return cv
	}

	for _, item := range snap.activeItems() {
		report.TotalItems++
		if item.IsLowStock {
			report.LowStockItems++
		}
		bucket(item.CategoryID).ItemCount++
	}

	for _, b := range snap.batches {
		value := b.PurchasePrice.Mul(decimal.NewFromInt(int64(b.QuantityAvailable)))
		report.TotalValue = report.TotalValue.Add(value)
		report.TotalStock += b.QuantityAvailable

		if item, ok := snap.items[b.ItemID]; ok {
			cv := bucket(item.CategoryID)
			cv.TotalStock += b.QuantityAvailable
			cv.TotalValue = cv.TotalValue.Add(value)
		}
	}

	for _, b := range snap.stockedBatches() {
		switch snap.expiry(b) {
		case domain.ExpiryExpired:
			report.ExpiredItems++
		case domain.ExpiryExpiringSoon:
			report.ExpiringItems++
		}
	}

	report.Categories = make([]*CategoryValuation, 0, len(buckets))
	for _, cv := range buckets {
		report.Categories = append(report.Categories, cv)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if !a.TotalValue.Equal(b.TotalValue) {
			return a.TotalValue.GreaterThan(b.TotalValue)
		}
		return a.CategoryName < b.CategoryName
	})
	return report, nil
}

func reportKey(ctx context.Context) (string, bool) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", false
	}
	return "report:" + tenantID, true
}

// invalidateReport drops the cached valuation of the tenant in ctx.
func invalidateReport(ctx context.Context, deps Deps, log *logger.Logger) {
	if deps.Cache == nil {
		return
	}
	key, ok := reportKey(ctx)
	if !ok {
		return
	}
	if err := deps.Cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to invalidate report cache")
	}
}
