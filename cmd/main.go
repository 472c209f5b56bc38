package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/selimerdinc/VeloxCase/config"
	"github.com/selimerdinc/VeloxCase/internal/ai"
	"github.com/selimerdinc/VeloxCase/internal/api"
	"github.com/selimerdinc/VeloxCase/internal/crypto"
	"github.com/selimerdinc/VeloxCase/internal/db"
	"github.com/selimerdinc/VeloxCase/internal/media"
	"github.com/selimerdinc/VeloxCase/internal/server"
	"github.com/selimerdinc/VeloxCase/internal/sync"
)

func main() {
	// Define command-line flags
	configPath := flag.String("config", "config.json", "Path to configuration file")
	createConfig := flag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	genKey := flag.Bool("genkey", false, "Generate a new encryption key and exit")
	serve := flag.Bool("serve", false, "Start the HTTP API server")
	listen := flag.String("listen", "", "Listen address for the HTTP server (overrides config)")
	tasks := flag.String("tasks", "", "Sync specific Jira tasks (comma-separated keys)")
	projectID := flag.Int64("project", 0, "Testmo project id for -tasks")
	folderID := flag.Int64("folder", 0, "Testmo folder id for -tasks")
	force := flag.Bool("force", false, "Update existing cases instead of skipping duplicates")
	workers := flag.Int("workers", 3, "Number of parallel workers for batch syncing")
	dev := flag.Bool("dev", false, "Allow an ephemeral encryption key (development only)")
	flag.Parse()

	// Generate an encryption key if requested
	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Println(key)
		return
	}

	// Create default configuration if requested
	if *createConfig {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to create default configuration: %v", err)
		}
		log.Printf("Created default configuration at %s", *configPath)
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	if *serve {
		runServer(cfg, *dev)
		return
	}

	if *tasks != "" {
		runBatch(cfg, *tasks, *projectID, *folderID, *force, *workers)
		return
	}

	fmt.Println("VeloxCase - Jira to Testmo sync")
	fmt.Println("-------------------------------")
	fmt.Println("Use -serve to start the HTTP API server")
	fmt.Println("Use -tasks KEY-1,KEY-2 -project ID -folder ID to sync tasks directly")
	fmt.Println("Use -force to update existing cases instead of skipping duplicates")
	fmt.Println("Use -init to create a default configuration file")
	fmt.Println("Use -genkey to generate a new encryption key")
	fmt.Println()
	fmt.Printf("Credentials can be provided via %s, %s, %s and %s\n",
		config.EnvJiraEmail, config.EnvJiraAPIToken, config.EnvTestmoAPIKey, config.EnvEncryptionKey)
}

// runServer starts the HTTP API. Serving without an encryption key is only
// allowed in dev mode; stored secrets would be lost on restart otherwise.
func runServer(cfg *config.Config, dev bool) {
	cipher, err := crypto.New(cfg.EncryptionKey, dev)
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v (use -genkey, or -dev for an ephemeral key)", err)
	}
	if cfg.JWTSecret == "" {
		if !dev {
			log.Fatalf("JWT secret is required to serve (set %s)", config.EnvJWTSecret)
		}
		secret, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate JWT secret: %v", err)
		}
		cfg.JWTSecret = secret
		log.Printf("WARNING: using an ephemeral JWT secret; sessions will not survive a restart")
	}

	database, err := db.New(cfg.DatabasePath, cipher)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	srv := server.New(cfg, database)
	log.Printf("Listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// runBatch syncs the given task keys directly with the process credentials
func runBatch(cfg *config.Config, taskInput string, projectID, folderID int64, force bool, workers int) {
	if projectID == 0 || folderID == 0 {
		log.Fatalf("-project and -folder are required with -tasks")
	}

	var keys []string
	for _, k := range strings.Split(taskInput, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		log.Fatalf("No task keys given")
	}

	jira := api.NewJiraClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)
	testmo := api.NewTestmoClient(cfg.TestmoBaseURL, cfg.TestmoAPIKey)
	downloader := media.NewDownloader(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)

	var generator ai.Generator
	if cfg.AIEnabled {
		generator = ai.NewGeminiGenerator(cfg.AIAPIKey, ai.Options{
			VisionEnabled:     cfg.AIVisionEnabled,
			AutomationEnabled: cfg.AIAutomationEnabled,
			NegativeEnabled:   cfg.AINegativeEnabled,
			MockDataEnabled:   cfg.AIMockDataEnabled,
			SystemPrompt:      cfg.AISystemPrompt,
		})
	}

	syncer := sync.New(jira, testmo, downloader, generator, cfg.AIVisionEnabled)
	syncer.SetWorkers(workers)

	log.Printf("Syncing %d tasks", len(keys))
	startTime := time.Now()

	results := syncer.ProcessBatch(context.Background(), keys, projectID, folderID, force)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatalf("Failed to encode results: %v", err)
	}

	log.Printf("Sync completed in %v", time.Since(startTime))
}
