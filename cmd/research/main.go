// Command research runs the market research batch from the shell, for cron
// and one-off use.
//
//	research                       research the whole catalogue
//	research -sets 75192-1,10294-1 research a subset
//	research -force 75192-1        force-refresh one set, bypassing cache
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/config"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/database"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/pricecache"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/research"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources/bricklink"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources/ebay"

	"github.com/joho/godotenv"
)

func main() {
	setsFlag := flag.String("sets", "", "comma-separated set numbers to research (default: all)")
	forceFlag := flag.String("force", "", "force-refresh a single set number, bypassing cache")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	cache := pricecache.New(db)
	scraper := ebay.New(cfg.EbayWorkerURL, cfg.EbaySessionKey)
	guide := bricklink.New(bricklink.Config{
		ConsumerKey:    cfg.BrickLinkConsumerKey,
		ConsumerSecret: cfg.BrickLinkConsumerSecret,
		Token:          cfg.BrickLinkToken,
		TokenSecret:    cfg.BrickLinkTokenSecret,
	})
	svc := research.NewService(db, cache, scraper, guide, cfg)

	ctx := context.Background()

	if *forceFlag != "" {
		set, err := svc.ForceRefresh(ctx, *forceFlag)
		if err != nil {
			log.Fatalf("Force refresh failed: %v", err)
		}
		fmt.Printf("Refreshed %s (%s): threshold=%v", set.SetNumber, set.Name, set.MeetsThreshold)
		if set.RecommendedPrice != nil {
			fmt.Printf(" recommended=£%.2f accept=£%.2f decline=£%.2f",
				*set.RecommendedPrice, *set.AutoAcceptPrice, *set.AutoDeclinePrice)
		}
		fmt.Println()
		return
	}

	var setNumbers []string
	if *setsFlag != "" {
		for _, s := range strings.Split(*setsFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				setNumbers = append(setNumbers, s)
			}
		}
	}

	summary, err := svc.Run(ctx, research.RunOptions{SetNumbers: setNumbers})
	if err != nil {
		log.Fatalf("Research run failed: %v", err)
	}

	fmt.Printf("Run #%d finished: processed=%d researched=%d cached=%d errored=%d\n",
		summary.JobID, summary.ItemsProcessed, summary.ItemsResearched, summary.ItemsCached, summary.ItemsErrored)
	for _, e := range summary.Errors {
		fmt.Println("  error:", e)
	}
}
