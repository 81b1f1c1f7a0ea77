package main

import (
	"log"
	"net/http"
	"os"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/api"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/config"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/database"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/pricecache"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/research"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources/bricklink"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources/ebay"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	if cfg.HasBrickLinkCredentials() {
		log.Printf("BrickLink API configured (consumer key: %s...)", cfg.BrickLinkConsumerKey[:min(8, len(cfg.BrickLinkConsumerKey))])
	} else {
		log.Println("⚠️  BrickLink API not configured, research runs will fail at setup")
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Research pipeline wiring
	cache := pricecache.New(db)
	scraper := ebay.New(cfg.EbayWorkerURL, cfg.EbaySessionKey)
	guide := bricklink.New(bricklink.Config{
		ConsumerKey:    cfg.BrickLinkConsumerKey,
		ConsumerSecret: cfg.BrickLinkConsumerSecret,
		Token:          cfg.BrickLinkToken,
		TokenSecret:    cfg.BrickLinkTokenSecret,
	})
	researchSvc := research.NewService(db, cache, scraper, guide, cfg)

	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Research progress websocket
	hub := api.NewProgressHub()
	r.GET("/ws", hub.HandleWS)

	// API routes
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, db, researchSvc, hub)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	log.Printf("Server starting on port %s", port)
	log.Fatal(r.Run(":" + port))
}
