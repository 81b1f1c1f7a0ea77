package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/config"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/pricecache"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/retry"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeScraper drives the eBay tier from a per-call function.
type fakeScraper struct {
	calls int
	fn    func(setNumber string) (*sources.ResearchResult, error)
}

func (f *fakeScraper) Research(ctx context.Context, name, setNumber string) (*sources.ResearchResult, error) {
	f.calls++
	if f.fn == nil {
		return nil, errors.New("unexpected scraper call")
	}
	return f.fn(setNumber)
}

// fakeGuide drives the BrickLink tier.
type fakeGuide struct {
	calls int
	fn    func(setNumber string) (*sources.PriceGuide, error)
}

func (f *fakeGuide) GetPriceGuide(ctx context.Context, setNumber, condition, guideType, currency string) (*sources.PriceGuide, error) {
	f.calls++
	if f.fn == nil {
		return nil, errors.New("unexpected guide call")
	}
	return f.fn(setNumber)
}

func goodGuide() *sources.PriceGuide {
	return &sources.PriceGuide{
		AvgPrice: "55.5000", MinPrice: "40.0000", MaxPrice: "80.0000",
		UnitQuantity: 15, TotalQuantity: 20, CurrencyCode: "GBP",
	}
}

func ebayResult(avg float64) *sources.ResearchResult {
	shipping := 4.50
	sellThrough := 70.0
	return &sources.ResearchResult{
		Source:          sources.SourceEbay,
		AvgSoldPrice:    avg,
		MinSoldPrice:    avg * 0.8,
		MaxSoldPrice:    avg * 1.4,
		SoldCount:       10,
		AvgShipping:     &shipping,
		SellThroughRate: &sellThrough,
		Currency:        "GBP",
		FetchedAt:       time.Now(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		BrickLinkConsumerKey:    "ck",
		BrickLinkConsumerSecret: "cs",
		BrickLinkToken:          "tk",
		BrickLinkTokenSecret:    "ts",
		Research: config.ResearchConfig{
			CacheTTLMonths:         3,
			MinSoldCount:           3,
			MinSellThroughRate:     30,
			MinNetSoldPrice:        10,
			AvgPriceWeight:         0.55,
			MaxPriceWeight:         0.15,
			RRPWeight:              0.30,
			MaxPriceCapRatio:       1.2,
			AutoAcceptRatio:        0.90,
			AutoDeclineRatio:       0.75,
			DefaultShippingCost:    1.50,
			DefaultSellThroughRate: 50,
		},
	}
}

func newTestService(t *testing.T, scraper *fakeScraper, guide *fakeGuide, cfg *config.Config) (*Service, *gorm.DB, *pricecache.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// In-memory sqlite is per-connection; keep the pool at one
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.BricksetSet{}, &models.PriceCache{}, &models.ResearchJob{}))

	cache := pricecache.New(db)
	svc := NewService(db, cache, scraper, guide, cfg)
	svc.SetRetryPolicy(retry.NewPolicyWithSleep(3, time.Second, func(time.Duration) {}))
	return svc, db, cache
}

func seedSets(t *testing.T, db *gorm.DB, n int, rrp *float64) []models.BricksetSet {
	t.Helper()
	var out []models.BricksetSet
	for i := 1; i <= n; i++ {
		set := models.BricksetSet{
			SetNumber: fmt.Sprintf("%04d-1", i),
			Name:      fmt.Sprintf("Test Set %d", i),
			Theme:     "Star Wars",
			RRP:       rrp,
		}
		require.NoError(t, db.Create(&set).Error)
		out = append(out, set)
	}
	return out
}

func f64(v float64) *float64 { return &v }

func TestCachePrecedenceNoLiveCalls(t *testing.T) {
	scraper := &fakeScraper{}
	guide := &fakeGuide{}
	svc, db, cache := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	require.NoError(t, cache.Upsert("0001-1", ebayResult(80)))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ItemsCached)
	assert.Equal(t, 0, summary.ItemsResearched)
	assert.Equal(t, 0, scraper.calls, "valid cache row must suppress the scraper")
	assert.Equal(t, 0, guide.calls, "valid cache row must suppress the API")
}

func TestFallbackOrderingAfterSessionExpiry(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, fmt.Errorf("ebay: %w", sources.ErrSessionExpired)
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 3, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, scraper.calls, "session expiry must disable the scraper for the rest of the run")
	assert.Equal(t, 3, guide.calls)
	assert.Equal(t, 3, summary.ItemsResearched)
	assert.Equal(t, 0, summary.ItemsErrored)
}

func TestEngineUnavailableAlsoDisablesScraper(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, fmt.Errorf("worker: %w", sources.ErrToolUnavailable)
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 3, f64(49.99))

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, scraper.calls)
}

func TestGenericScraperErrorDoesNotDisableSource(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, errors.New("flaky parse")
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 3, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, scraper.calls, "ordinary errors fall through without tripping the breaker")
	assert.Equal(t, 3, summary.ItemsResearched)
}

func TestNullScrapeResultFallsThrough(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, nil // ran fine, nothing sold
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, guide.calls)
	assert.Equal(t, 1, summary.ItemsResearched)
	assert.Equal(t, 0, summary.ItemsErrored)
}

func TestRateLimitedGuideRetriesThenSucceeds(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, nil
	}}
	guide := &fakeGuide{}
	guide.fn = func(string) (*sources.PriceGuide, error) {
		if guide.calls <= 3 {
			return nil, fmt.Errorf("bricklink: %w", sources.ErrRateLimited)
		}
		return goodGuide(), nil
	}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, guide.calls, "3 rate-limited attempts then success on the 4th")
	assert.Equal(t, 1, summary.ItemsResearched)
	assert.Equal(t, 0, summary.ItemsErrored)
}

func TestBatchSurvivesSingleItemFailure(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, errors.New("scrape failed")
	}}
	guide := &fakeGuide{fn: func(setNumber string) (*sources.PriceGuide, error) {
		if setNumber == "0003-1" {
			return nil, errors.New("item vaulted")
		}
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 5, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.ItemsProcessed)
	assert.Equal(t, 1, summary.ItemsErrored)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "0003-1")

	// Items 1,2,4,5 all got derived fields
	var updated int64
	require.NoError(t, db.Model(&models.BricksetSet{}).
		Where("last_researched_at IS NOT NULL").Count(&updated).Error)
	assert.EqualValues(t, 4, updated)
}

func TestNoRRPMeansNoRecommendation(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(60), nil
	}}
	guide := &fakeGuide{}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, nil)

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	var set models.BricksetSet
	require.NoError(t, db.Where("set_number = ?", "0001-1").First(&set).Error)
	assert.True(t, set.MeetsThreshold, "threshold is evaluated regardless of RRP")
	assert.Nil(t, set.RecommendedPrice)
	assert.Nil(t, set.AutoAcceptPrice)
	assert.Nil(t, set.AutoDeclinePrice)
}

func TestRecommendationWrittenWithRRP(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(60), nil
	}}
	guide := &fakeGuide{}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	var set models.BricksetSet
	require.NoError(t, db.Where("set_number = ?", "0001-1").First(&set).Error)
	require.NotNil(t, set.RecommendedPrice)
	require.NotNil(t, set.AutoAcceptPrice)
	require.NotNil(t, set.AutoDeclinePrice)
	assert.Greater(t, *set.RecommendedPrice, 0.0)
	assert.Greater(t, *set.AutoAcceptPrice, *set.AutoDeclinePrice)
	assert.Less(t, *set.AutoAcceptPrice, *set.RecommendedPrice)
}

func TestGuideResultUsesConservativeDefaults(t *testing.T) {
	// BrickLink evidence only: 15 sold, avg 55.50. With the substituted
	// 50% sell-through and £1.50 shipping the threshold passes.
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, nil
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	_, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	var set models.BricksetSet
	require.NoError(t, db.Where("set_number = ?", "0001-1").First(&set).Error)
	assert.True(t, set.MeetsThreshold)
}

func TestForceRefreshBypassesAndOverwritesCache(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(200), nil
	}}
	guide := &fakeGuide{}
	svc, db, cache := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	// Fresh, valid cache entry that force-refresh must ignore
	require.NoError(t, cache.Upsert("0001-1", ebayResult(100)))

	set, err := svc.ForceRefresh(context.Background(), "0001-1")
	require.NoError(t, err)

	assert.Equal(t, 1, scraper.calls, "force refresh must make a live call")
	require.NotNil(t, set.RecommendedPrice)

	row, err := cache.Lookup("0001-1", sources.SourceEbay, 3)
	require.NoError(t, err)
	assert.Equal(t, 200.0, row.AvgSoldPrice, "cache must hold the refreshed statistics")
}

func TestForceRefreshFallsBackToGuide(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return nil, errors.New("scrape failed")
	}}
	guide := &fakeGuide{fn: func(string) (*sources.PriceGuide, error) {
		return goodGuide(), nil
	}}
	svc, db, cache := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 1, f64(49.99))

	set, err := svc.ForceRefresh(context.Background(), "0001-1")
	require.NoError(t, err)
	assert.Equal(t, 1, guide.calls)
	assert.True(t, set.MeetsThreshold)

	row, err := cache.Lookup("0001-1", sources.SourceBricklink, 3)
	require.NoError(t, err)
	assert.Equal(t, 55.5, row.AvgSoldPrice)
}

func TestMissingCredentialsFailsJobBeforeProcessing(t *testing.T) {
	scraper := &fakeScraper{}
	guide := &fakeGuide{}
	cfg := testConfig()
	cfg.BrickLinkConsumerKey = ""
	svc, db, _ := newTestService(t, scraper, guide, cfg)
	seedSets(t, db, 2, f64(49.99))

	_, err := svc.Run(context.Background(), RunOptions{})
	require.Error(t, err)

	var job models.ResearchJob
	require.NoError(t, db.Order("id desc").First(&job).Error)
	assert.Equal(t, "failed", job.Status)
	assert.Equal(t, 0, job.ItemsProcessed)
	assert.Contains(t, job.Errors, "credentials")
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 0, scraper.calls)
	assert.Equal(t, 0, guide.calls)
}

func TestFailJobSurvivesStorageFailure(t *testing.T) {
	scraper := &fakeScraper{}
	guide := &fakeGuide{}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())

	job, err := svc.startJob()
	require.NoError(t, err)

	// Storage goes away between start and finalization; failJob must log
	// and return, not panic or retry forever
	require.NoError(t, db.Migrator().DropTable(&models.ResearchJob{}))
	assert.NotPanics(t, func() {
		svc.failJob(job, []string{"setup error"}, RunSummary{})
	})
}

func TestJobFinalizedWithCounters(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(60), nil
	}}
	guide := &fakeGuide{}
	svc, db, cache := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 3, f64(49.99))

	// One set already cached: counters must split researched vs cached
	require.NoError(t, cache.Upsert("0002-1", ebayResult(90)))

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	var job models.ResearchJob
	require.NoError(t, db.First(&job, summary.JobID).Error)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, "market_research", job.JobType)
	assert.Equal(t, 3, job.ItemsProcessed)
	assert.Equal(t, 2, job.ItemsResearched)
	assert.Equal(t, 1, job.ItemsCached)
	assert.Equal(t, 0, job.ItemsErrored)
	require.NotNil(t, job.CompletedAt)
}

func TestSetNumberFilter(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(60), nil
	}}
	guide := &fakeGuide{}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 5, f64(49.99))

	summary, err := svc.Run(context.Background(), RunOptions{
		SetNumbers: []string{"0002-1", "0004-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemsProcessed)
	assert.Equal(t, 2, scraper.calls)
}

func TestProgressReportedAndPanicsSwallowed(t *testing.T) {
	scraper := &fakeScraper{fn: func(string) (*sources.ResearchResult, error) {
		return ebayResult(60), nil
	}}
	guide := &fakeGuide{}
	svc, db, _ := newTestService(t, scraper, guide, testConfig())
	seedSets(t, db, 2, f64(49.99))

	var stages []string
	summary, err := svc.Run(context.Background(), RunOptions{
		Progress: func(p Progress) {
			stages = append(stages, p.Stage)
			panic("observer blew up")
		},
	})
	require.NoError(t, err, "a panicking observer must not fail the run")
	assert.Equal(t, 2, summary.ItemsProcessed)
	assert.Contains(t, stages, StageLoadingConfig)
	assert.Contains(t, stages, StageResearching)
	assert.Contains(t, stages, StageFinalizing)
}
