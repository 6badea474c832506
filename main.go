package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"rescue_scrooper/config"
	"rescue_scrooper/httputil"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
	"rescue_scrooper/scheduler"
	"rescue_scrooper/scraper"
	"rescue_scrooper/services"
	"rescue_scrooper/storage"
	"rescue_scrooper/workers"
)

var rootCmd = &cobra.Command{
	Use:   "rescue_scrooper",
	Short: "Collects adoptable animal listings from rescue organizations",
	Long: `rescue_scrooper scrapes rescue organization listings into a central store,
tracks which animals are still listed across runs and marks the ones that
disappear unavailable only after healthy runs.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scrape pass and exit",
	RunE:  runOnce,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run on the configured schedule and process queued commands",
	RunE:  runDaemon,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the central store schema",
	RunE:  runMigrate,
}

var enqueueCmd = &cobra.Command{
	Use:       "enqueue <scrape_now|scrape_org|pause|resume>",
	Short:     "Queue a command for a running daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.CmdScrapeNow), string(models.CmdScrapeOrg), string(models.CmdPause), string(models.CmdResume)},
	RunE:      runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent journaled runs and log lines",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().String("db-path", "scraper.db", "Path to the local SQLite journal")
	rootCmd.PersistentFlags().String("log-path", "daemon.log", "Path to the rotating log file")
	rootCmd.PersistentFlags().String("orgs-dir", config.DefaultOrganizationsDir, "Directory of organization YAML files")

	runCmd.Flags().String("org", "", "Only run this organization")
	runCmd.Flags().Bool("dry-run", false, "Collect and evaluate without writing to the central store")
	enqueueCmd.Flags().String("org", "", "Organization for scrape_org")
	statusCmd.Flags().String("org", "", "Filter by organization")
	statusCmd.Flags().Int("limit", 10, "Number of rows to show")

	rootCmd.AddCommand(runCmd, daemonCmd, migrateCmd, enqueueCmd, statusCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers flags over env and defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()

	flags := []struct {
		name string
		key  string
	}{
		{"db-path", "db_path"},
		{"log-path", "log_path"},
		{"orgs-dir", "organizations_dir"},
	}
	for _, f := range flags {
		if flag := cmd.Flags().Lookup(f.name); flag != nil && flag.Changed {
			_ = v.BindPFlag(f.key, flag)
		}
	}

	return config.LoadFrom(v, v.GetString("organizations_dir"))
}

func setupLogging(cfg *config.Config) func() {
	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
		return func() {}
	}
	return func() { logFile.Close() }
}

// app is the wired engine and everything that needs closing.
type app struct {
	orchestrator *scraper.Orchestrator
	journal      *storage.SQLiteStore
	closers      []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, dryRun bool) (*app, error) {
	a := &app{}

	journal, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.journal = journal
	a.closers = append(a.closers, func() { journal.Close() })
	log.Printf("SQLite journal: %s", cfg.DBPath)

	var store services.Store
	if dryRun {
		log.Println("Dry run: central store writes go to memory")
		store = storage.NewMemoryStore()
	} else {
		if cfg.Database.URL == "" {
			a.Close()
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pgStore.Close)
		log.Printf("Postgres: %s", maskConnectionString(cfg.Database.URL))
		store = pgStore
	}

	o := scraper.NewOrchestrator(cfg, store, journal)
	o.SetLogSink(journal)

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}
	retry := httputil.RetryPolicy{
		Attempts:  cfg.Scraper.RetryAttempts,
		BaseDelay: cfg.Scraper.RetryBaseDelay,
		MaxDelay:  cfg.Scraper.RetryMaxDelay,
	}
	fetcher := scraper.NewFetcher(clients.Scraping, retry, cfg.Scraper.RateLimitRPS)

	for _, id := range o.OrganizationIDs() {
		orgCfg := cfg.Organizations[id]
		c, err := scraper.NewCollector(orgCfg, fetcher)
		if err != nil {
			log.Printf("Skipping %s: %v", id, err)
			continue
		}
		o.SetCollector(id, c)
		log.Printf("  - %s (%s, %s)", orgCfg.Name, id, orgCfg.Collector)
	}

	if cfg.Media.Enabled && !dryRun {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.Media.Bucket,
			Region:          cfg.Media.Region,
			Endpoint:        cfg.Media.Endpoint,
			AccessKeyID:     cfg.Media.AccessKeyID,
			SecretAccessKey: cfg.Media.SecretAccessKey,
		})
		if err != nil {
			log.Printf("Media disabled: %v", err)
		} else {
			media := workers.NewMediaWorker(clients.Media, uploader, retry, cfg.Media.HealthWindow)
			media.SetHealthTTL(cfg.Media.HealthTTL)
			media.SetLogFunc(func(level models.LogLevel, orgID, message string) {
				journal.Log(nil, level, message, orgID)
			})
			o.SetMedia(media)
			log.Printf("Media: re-hosting images in bucket %s", cfg.Media.Bucket)
		}
	}

	a.orchestrator = o
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer setupLogging(cfg)()

	orgID, _ := cmd.Flags().GetString("org")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	if orgID != "" {
		if !a.orchestrator.Run(ctx, orgID) {
			return fmt.Errorf("run %s failed", orgID)
		}
		return nil
	}

	log.Printf("Running %d organizations...", len(cfg.Organizations))
	if err := a.orchestrator.RunAll(ctx); err != nil {
		return err
	}
	log.Println("Scrape complete!")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer setupLogging(cfg)()
	log.Printf("Starting rescue_scrooper daemon with %d organizations", len(cfg.Organizations))

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(cfg, a.orchestrator, a.journal)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	sched.Stop()
	log.Println("Goodbye!")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pgStore.Close()

	if err := pgStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Printf("Schema ready on %s", maskConnectionString(cfg.Database.URL))
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	command := models.CommandType(args[0])
	var params *models.CommandParams
	switch command {
	case models.CmdScrapeOrg:
		orgID, _ := cmd.Flags().GetString("org")
		if orgID == "" {
			return fmt.Errorf("scrape_org needs --org")
		}
		if _, ok := cfg.Organizations[orgID]; !ok {
			return fmt.Errorf("%w: %s", scraper.ErrUnknownOrganization, orgID)
		}
		params = &models.CommandParams{Organization: orgID}
	case models.CmdScrapeNow, models.CmdPause, models.CmdResume:
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	journal, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer journal.Close()

	if err := journal.EnqueueCommand(command, params); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	fmt.Printf("Queued %s\n", command)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	orgID, _ := cmd.Flags().GetString("org")
	limit, _ := cmd.Flags().GetInt("limit")

	journal, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer journal.Close()

	runs, err := journal.RecentRuns(orgID, limit)
	if err != nil {
		return fmt.Errorf("recent runs: %w", err)
	}
	fmt.Println("Journaled runs:")
	for _, r := range runs {
		msg := ""
		if r.ErrorMessage != nil {
			msg = " " + *r.ErrorMessage
		}
		fmt.Printf("  %s  %-20s %-22s found=%d added=%d updated=%d skipped=%d errors=%d%s\n",
			r.StartedAt.Format(time.RFC3339), r.OrganizationID, r.Status,
			r.AnimalsFound, r.AnimalsAdded, r.AnimalsUpdated, r.AnimalsSkipped, r.ErrorsCount, msg)
	}

	logs, err := journal.RecentLogs(orgID, limit)
	if err != nil {
		return fmt.Errorf("recent logs: %w", err)
	}
	fmt.Println("Recent log lines:")
	for _, l := range logs {
		fmt.Printf("  %s  [%s] %s: %s\n", l.Timestamp.Format(time.RFC3339), strings.ToUpper(string(l.Level)), l.OrganizationID, l.Message)
	}
	return nil
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	at := strings.Index(connStr[start:], "@")
	if at < 0 {
		return connStr
	}
	at += start

	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	colon += start
	return connStr[:colon+1] + "****" + connStr[at:]
}
