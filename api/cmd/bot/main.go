package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"music-studio-bot/api/internal/catalog"
	"music-studio-bot/api/internal/config"
	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/httpserver"
	"music-studio-bot/api/internal/locale"
	"music-studio-bot/api/internal/logging"
	"music-studio-bot/api/internal/session"
	"music-studio-bot/api/internal/store"
	"music-studio-bot/api/internal/supervisor"
	"music-studio-bot/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid config")
	}
	if strings.TrimSpace(cfg.Server.Port) == "" {
		cfg.Server.Port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres (необязательно) ---
	var (
		db      *sql.DB
		repo    *store.ResultRepo
		history session.History
	)
	if dsn := resolveDSN(cfg.Database.URL); dsn != "" {
		db, err = openDB(ctx, dsn)
		if err != nil {
			logging.Fatal().Err(err).Msg("database")
		}
		defer db.Close()
		logging.Info().Str("db", safeDSNSummary(dsn)).Msg("db connected")

		repo = store.NewResultRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			logging.Fatal().Err(err).Msg("migrate")
		}
		history = repo
	} else {
		logging.Info().Msg("DATABASE_URL is empty: quiz history disabled")
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logging.Fatal().Err(err).Msg("telegram")
	}
	bot.Debug = cfg.Telegram.Debug

	loader := catalog.NewLoader(cfg.Catalog.Dir)
	reportCatalog(loader, cfg.Expert)

	lang, _ := locale.ParseTag(cfg.Session.DefaultLanguage)
	manager := session.NewManager(telegram.NewSender(bot), loader, session.Options{
		Rates:           cfg.Expert,
		DefaultLanguage: lang,
		History:         history,
	})
	dispatcher := session.NewDispatcher(manager, cfg.Session.Workers, cfg.Session.QueueSize)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddBotService(dispatcher)

	opts := httpserver.Options{}
	if db != nil {
		opts.DB = db
	}

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := cfg.Telegram.WebhookURL; webhookURL != "" {
		path := telegram.WebhookPath(bot.Token)
		if err := telegram.RegisterWebhook(bot, webhookURL, path); err != nil {
			logging.Fatal().Err(err).Msg("setWebhook")
		}
		opts.WebhookPath = path
		opts.Webhook = telegram.NewWebhook(dispatcher)
		logging.Info().Str("mode", "webhook").Msg("updates via webhook")
	} else {
		tree.AddBotService(telegram.NewPoller(bot, dispatcher, cfg.Telegram.PollTimeout))
		logging.Info().Str("mode", "polling").Msg("updates via long polling")
	}

	addr := "0.0.0.0:" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpserver.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(srv, addr, 10*time.Second))

	if repo != nil && cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		tree.AddMaintenanceService(store.NewJanitor(repo, retention, time.Hour))
	}

	logging.Info().Str("bot", bot.Self.UserName).Int("workers", cfg.Session.Workers).Msg("bot started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("bot stopped")
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

// reportCatalog пишет в лог, какие категории можно пройти. Битые категории не мешают старту:
// пользователь получит "категория недоступна".
func reportCatalog(loader *catalog.Loader, rates expert.Rates) {
	for _, key := range catalog.Categories {
		m, err := loader.NewModel(key, rates)
		if err != nil {
			logging.Warn().Err(err).Str("category", key).Msg("category unavailable")
			continue
		}
		logging.Info().Str("category", key).Int("questions", m.NumQuestions()).
			Int("candidates", len(m.Candidates())).Msg("category loaded")
	}
}

// ---------------- Helpers -----------------

// resolveDSN: DATABASE_URL, иначе POSTGRES_*/PG*, если задан хост. Пусто — без базы.
func resolveDSN(databaseURL string) string {
	if v := strings.TrimSpace(databaseURL); v != "" {
		return v
	}
	host := strings.TrimSpace(os.Getenv("PGHOST"))
	if host == "" {
		return ""
	}
	user := getenvDefault("POSTGRES_USER", "musicbot")
	pass := os.Getenv("POSTGRES_PASSWORD")
	port := getenvDefault("PGPORT", "5432")
	db := getenvDefault("POSTGRES_DB", "musicbot")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func safeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
