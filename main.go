package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"supportchat/internal/api"
	"supportchat/internal/chat"
	"supportchat/internal/config"
	"supportchat/internal/llm"
	"supportchat/internal/observability"
	"supportchat/internal/redis"
	"supportchat/internal/session"
	"supportchat/internal/storage"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "create tables and exit")
	flag.Parse()

	log := observability.Logger()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("load .env")
	}

	cfg, err := config.Load(os.Getenv("SUPPORTCHAT_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := observability.SetLevel(cfg.BasicConfig.LogLevel); err != nil {
		log.WithError(err).Warn("invalid log level, keeping info")
	}

	dbType := cfg.BasicConfig.DatabaseType
	log.WithField("db_type", dbType).Info("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	// Create tables: conversations, messages
	if err := storage.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}
	if *migrateOnly {
		log.Info("migration complete")
		return
	}

	var locker chat.TurnLocker = chat.NewLocalLocker()
	if redis.Enabled(cfg) {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			log.WithError(err).Fatal("create redis client")
		}
		defer rdb.Close()
		locker = redis.NewTurnLock(rdb, 0)
		log.Info("using redis turn lock")
	}

	knowledge, err := llm.LoadKnowledge(cfg.LLM.KnowledgeFile)
	if err != nil {
		log.WithError(err).Fatal("load knowledge")
	}
	provider := cfg.Provider()
	completer := llm.NewEinoCompleter(llm.ProviderSettings{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   provider.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	generator := llm.NewGenerator(completer, llm.GeneratorConfig{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestTimeout: time.Duration(cfg.LLM.RequestTimeout) * time.Second,
		Knowledge:      knowledge,
	})
	if cfg.LLM.APIKey == "" {
		log.WithField("provider", cfg.LLM.Provider).Warn("no API key configured, chat replies will report a configuration error")
	}

	dbCfg := cfg.Databases[dbType]
	store := storage.NewStore(db, time.Duration(dbCfg.OpTimeout)*time.Second)
	chatService := chat.NewService(store, session.NewResolver(store), generator, locker, chat.Options{
		HistoryWindow: cfg.BasicConfig.MaxHistoryMessages,
		LockWait:      time.Duration(cfg.BasicConfig.TurnLockWait) * time.Second,
	})
	handlers := api.NewHandler(chatService, store, cfg.BasicConfig.MaxMessageLength)

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(), api.CORS(cfg.BasicConfig.AllowedOrigins))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).
			WithField("provider", cfg.LLM.Provider).
			WithField("model", cfg.LLM.Model).
			Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("server stopped")
}
