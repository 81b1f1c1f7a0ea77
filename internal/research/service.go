// Package research runs the market research batch: for each catalogued set,
// resolve sold-price statistics from the cheapest available tier (eBay
// cache, eBay live, BrickLink cache, BrickLink live), cache live results,
// and write the derived pricing fields back onto the set.
package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/config"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/pricecache"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/pricing"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/retry"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"gorm.io/gorm"
)

const setPageSize = 500

// Progress stages reported to the sink.
const (
	StageLoadingConfig = "loading configuration"
	StageLoadingSets   = "loading sets"
	StageResearching   = "researching"
	StageFinalizing    = "finalizing"
)

// Progress is one fire-and-forget update to an observer.
type Progress struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

// ProgressFunc receives progress updates. It is optional and best-effort:
// panics are swallowed and logged, never propagated into the run.
type ProgressFunc func(Progress)

// RunOptions select the sets to research and where to report progress.
type RunOptions struct {
	SetNumbers []string // empty = whole catalogue
	Progress   ProgressFunc
}

// RunSummary is what a completed run reports back.
type RunSummary struct {
	JobID           uint     `json:"job_id"`
	ItemsProcessed  int      `json:"items_processed"`
	ItemsResearched int      `json:"items_researched"`
	ItemsCached     int      `json:"items_cached"`
	ItemsErrored    int      `json:"items_errored"`
	Errors          []string `json:"errors"`
}

// sourceAvailability is batch-local circuit-breaker state. The eBay flag
// flips to false for the remainder of the run on session expiry or a dead
// browser engine, never on ordinary per-item failures.
type sourceAvailability struct {
	ebayAvailable bool
}

type Service struct {
	db      *gorm.DB
	cache   *pricecache.Store
	scraper sources.Scraper
	guide   sources.PriceGuideAPI
	cfg     *config.Config
	retry   *retry.Policy
}

func NewService(db *gorm.DB, cache *pricecache.Store, scraper sources.Scraper, guide sources.PriceGuideAPI, cfg *config.Config) *Service {
	return &Service{
		db:      db,
		cache:   cache,
		scraper: scraper,
		guide:   guide,
		cfg:     cfg,
		retry:   retry.NewPolicy(),
	}
}

// SetRetryPolicy overrides the stock API retry policy (tests use a no-sleep
// policy).
func (s *Service) SetRetryPolicy(p *retry.Policy) {
	s.retry = p
}

// Run executes one batch. Setup failures (missing credentials, set load
// failure) fail the job before any items are processed and are returned to
// the caller; per-item failures are recorded and never abort the batch.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	job, err := s.startJob()
	if err != nil {
		return nil, fmt.Errorf("start research job: %w", err)
	}

	report(opts.Progress, Progress{Stage: StageLoadingConfig})

	if !s.cfg.HasBrickLinkCredentials() {
		setupErr := errors.New("bricklink credentials not configured")
		s.failJob(job, []string{setupErr.Error()}, RunSummary{})
		return nil, setupErr
	}

	report(opts.Progress, Progress{Stage: StageLoadingSets})

	sets, err := s.loadSets(opts.SetNumbers)
	if err != nil {
		s.failJob(job, []string{err.Error()}, RunSummary{})
		return nil, fmt.Errorf("load sets: %w", err)
	}

	log.Printf("[Research] starting run #%d (%d sets)", job.ID, len(sets))

	avail := &sourceAvailability{ebayAvailable: true}
	summary := RunSummary{JobID: job.ID}

	for i := range sets {
		set := &sets[i]
		report(opts.Progress, Progress{
			Stage:   StageResearching,
			Current: i + 1,
			Total:   len(sets),
			Label:   fmt.Sprintf("%s %s", set.SetNumber, set.Name),
		})

		res, fromCache, err := s.resolve(ctx, set, avail)
		if err != nil || res == nil {
			if err == nil {
				err = errors.New("no source produced a result")
			}
			summary.ItemsErrored++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", set.SetNumber, err))
			log.Printf("[Research] [%d/%d] ✗ %s: %v", i+1, len(sets), set.SetNumber, err)
			continue
		}

		s.applyPricing(set, res)
		if err := s.updateDerivedFields(set); err != nil {
			summary.ItemsErrored++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: save: %v", set.SetNumber, err))
			log.Printf("[Research] [%d/%d] ✗ %s: save: %v", i+1, len(sets), set.SetNumber, err)
			continue
		}

		if fromCache {
			summary.ItemsCached++
		} else {
			summary.ItemsResearched++
		}
		summary.ItemsProcessed++
		log.Printf("[Research] [%d/%d] ✓ %s | source:%s cached:%v threshold:%v",
			i+1, len(sets), set.SetNumber, res.Source, fromCache, set.MeetsThreshold)
	}

	report(opts.Progress, Progress{Stage: StageFinalizing, Current: len(sets), Total: len(sets)})

	if err := s.completeJob(job, summary); err != nil {
		log.Printf("[Research] failed to finalize job #%d: %v", job.ID, err)
	}
	log.Printf("[Research] run #%d done: processed=%d researched=%d cached=%d errored=%d",
		job.ID, summary.ItemsProcessed, summary.ItemsResearched, summary.ItemsCached, summary.ItemsErrored)
	return &summary, nil
}

// resolve walks the four-tier resolution for one set, short-circuiting on
// the first usable result. The bool reports whether the result came from
// cache.
func (s *Service) resolve(ctx context.Context, set *models.BricksetSet, avail *sourceAvailability) (*sources.ResearchResult, bool, error) {
	ttl := s.cfg.Research.CacheTTLMonths

	// Tier 1: eBay cache
	if avail.ebayAvailable {
		row, err := s.cache.Lookup(set.SetNumber, sources.SourceEbay, ttl)
		if err == nil {
			return resultFromCache(row), true, nil
		}
		if !errors.Is(err, pricecache.ErrNotFound) {
			// Cache trouble is a miss, not a reason to abort the item
			log.Printf("[Research] cache lookup failed for %s: %v", set.SetNumber, err)
		}

		// Tier 2: eBay live
		res, err := s.scraper.Research(ctx, set.Name, set.SetNumber)
		switch {
		case err == nil && res != nil:
			if cerr := s.cache.Upsert(set.SetNumber, res); cerr != nil {
				log.Printf("[Research] cache write failed for %s: %v", set.SetNumber, cerr)
			}
			return res, false, nil
		case err == nil:
			// Scrape ran fine, nothing sold; fall through to BrickLink
		case errors.Is(err, sources.ErrSessionExpired), errors.Is(err, sources.ErrToolUnavailable):
			avail.ebayAvailable = false
			log.Printf("[Research] eBay source disabled for this run: %v", err)
		default:
			log.Printf("[Research] eBay research failed for %s: %v", set.SetNumber, err)
		}
	}

	// Tier 3: BrickLink cache
	row, err := s.cache.Lookup(set.SetNumber, sources.SourceBricklink, ttl)
	if err == nil {
		return resultFromCache(row), true, nil
	}
	if !errors.Is(err, pricecache.ErrNotFound) {
		log.Printf("[Research] cache lookup failed for %s: %v", set.SetNumber, err)
	}

	// Tier 4: BrickLink live, retry-wrapped
	res, err := s.fetchPriceGuide(ctx, set.SetNumber)
	if err != nil {
		return nil, false, err
	}
	if cerr := s.cache.Upsert(set.SetNumber, res); cerr != nil {
		log.Printf("[Research] cache write failed for %s: %v", set.SetNumber, cerr)
	}
	return res, false, nil
}

func (s *Service) fetchPriceGuide(ctx context.Context, setNumber string) (*sources.ResearchResult, error) {
	var guide *sources.PriceGuide
	err := s.retry.Do(func() error {
		g, err := s.guide.GetPriceGuide(ctx, setNumber, "N", "sold", "GBP")
		if err != nil {
			return err
		}
		guide = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources.ResultFromPriceGuide(guide)
}

// ForceRefresh re-researches a single set, bypassing and overwriting its
// cache: invalidate, scrape live, fall back to BrickLink on any failure.
func (s *Service) ForceRefresh(ctx context.Context, setNumber string) (*models.BricksetSet, error) {
	var set models.BricksetSet
	if err := s.db.Where("set_number = ?", setNumber).First(&set).Error; err != nil {
		return nil, fmt.Errorf("load set %s: %w", setNumber, err)
	}

	if err := s.cache.Invalidate(setNumber); err != nil {
		log.Printf("[Research] cache invalidate failed for %s: %v", setNumber, err)
	}

	res, err := s.scraper.Research(ctx, set.Name, set.SetNumber)
	if err != nil || res == nil {
		if err != nil {
			log.Printf("[Research] force refresh: eBay failed for %s, trying BrickLink: %v", setNumber, err)
		}
		res, err = s.fetchPriceGuide(ctx, setNumber)
		if err != nil {
			return nil, err
		}
	}

	if cerr := s.cache.Upsert(setNumber, res); cerr != nil {
		log.Printf("[Research] cache write failed for %s: %v", setNumber, cerr)
	}

	s.applyPricing(&set, res)
	if err := s.updateDerivedFields(&set); err != nil {
		return nil, err
	}
	return &set, nil
}

// applyPricing evaluates the listing threshold and, when an RRP exists,
// computes the recommendation and offer thresholds. No RRP means no
// recommendation: market evidence alone gives nothing to margin against.
func (s *Service) applyPricing(set *models.BricksetSet, res *sources.ResearchResult) {
	rc := s.cfg.Research
	params := pricing.Params{
		MinSoldCount:       rc.MinSoldCount,
		MinSellThroughRate: rc.MinSellThroughRate,
		MinNetSoldPrice:    rc.MinNetSoldPrice,
		AvgPriceWeight:     rc.AvgPriceWeight,
		MaxPriceWeight:     rc.MaxPriceWeight,
		RRPWeight:          rc.RRPWeight,
		MaxPriceCapRatio:   rc.MaxPriceCapRatio,
		AutoAcceptRatio:    rc.AutoAcceptRatio,
		AutoDeclineRatio:   rc.AutoDeclineRatio,
	}

	shipping := rc.DefaultShippingCost
	if res.AvgShipping != nil {
		shipping = *res.AvgShipping
	}
	sellThrough := rc.DefaultSellThroughRate
	if res.SellThroughRate != nil {
		sellThrough = *res.SellThroughRate
	}

	set.MeetsThreshold = pricing.EvaluateThreshold(res.SoldCount, sellThrough, res.AvgSoldPrice, shipping, params)

	if set.RRP == nil {
		set.RecommendedPrice = nil
		set.AutoAcceptPrice = nil
		set.AutoDeclinePrice = nil
	} else {
		rec := pricing.CalculateRecommendedPrice(res.AvgSoldPrice, res.MaxSoldPrice, *set.RRP, params)
		offers := pricing.CalculateBestOfferThresholds(rec, params)
		set.RecommendedPrice = &rec
		set.AutoAcceptPrice = &offers.AutoAccept
		set.AutoDeclinePrice = &offers.AutoDecline
	}

	now := time.Now()
	set.LastResearchedAt = &now
}

func (s *Service) updateDerivedFields(set *models.BricksetSet) error {
	return s.db.Model(&models.BricksetSet{}).Where("id = ?", set.ID).Updates(map[string]interface{}{
		"recommended_price":  set.RecommendedPrice,
		"auto_accept_price":  set.AutoAcceptPrice,
		"auto_decline_price": set.AutoDeclinePrice,
		"meets_threshold":    set.MeetsThreshold,
		"last_researched_at": set.LastResearchedAt,
	}).Error
}

// loadSets pulls the catalogue page by page; the full list may not fit one
// retrieval for large catalogues.
func (s *Service) loadSets(filter []string) ([]models.BricksetSet, error) {
	var out []models.BricksetSet
	for offset := 0; ; offset += setPageSize {
		q := s.db.Order("set_number").Limit(setPageSize).Offset(offset)
		if len(filter) > 0 {
			q = q.Where("set_number IN ?", filter)
		}
		var page []models.BricksetSet
		if err := q.Find(&page).Error; err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < setPageSize {
			break
		}
	}
	return out, nil
}

func resultFromCache(row *models.PriceCache) *sources.ResearchResult {
	return &sources.ResearchResult{
		Source:          row.Source,
		AvgSoldPrice:    row.AvgSoldPrice,
		MinSoldPrice:    row.MinSoldPrice,
		MaxSoldPrice:    row.MaxSoldPrice,
		SoldCount:       row.SoldCount,
		AvgShipping:     row.AvgShipping,
		SellThroughRate: row.SellThroughRate,
		Currency:        row.Currency,
		FetchedAt:       row.CachedAt,
	}
}

func report(fn ProgressFunc, p Progress) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Research] progress callback panic: %v", r)
		}
	}()
	fn(p)
}
