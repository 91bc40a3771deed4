package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-inbox/internal/api"
	"clinic-inbox/internal/config"
	"clinic-inbox/internal/database"
	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/personas"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/responder"
	"clinic-inbox/internal/store"
	"clinic-inbox/internal/webhook"
	"clinic-inbox/internal/whatsapp"
	"clinic-inbox/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "clinic-inbox")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		logg.Fatal("open database", "driver", cfg.DBDriver, "error", err)
	}
	st := store.New(db)

	bus := relay.NewBus(logg)
	var cluster *inbox.Cluster
	if cfg.RedisAddr != "" {
		rdb, err := relay.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			logg.Fatal("connect redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
		if err := relay.NewRedisBridge(bus, rdb, cfg.RedisChannel, logg).Start(ctx); err != nil {
			logg.Fatal("start redis bridge", "error", err)
		}
		cluster = inbox.NewCluster(rdb, bus.Origin(), logg)
		go cluster.Run(ctx)
	}

	var gen responder.Responder
	switch cfg.AIProvider {
	case "openai":
		gen = responder.NewOpenAI(responder.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
	default:
		gen = responder.NewScripted(responder.DefaultScript())
	}

	var dispatcher inbox.Dispatcher
	if cfg.WhatsAppEnabled() {
		dispatcher = whatsapp.NewClient(cfg, logg)
	} else {
		logg.Warn("whatsapp credentials missing, outbound messages are only logged")
		dispatcher = whatsapp.NewLogSender(logg)
	}

	personaService := personas.NewService(st, bus, logg)
	inboxService := inbox.NewService(inbox.Deps{
		Store:        st,
		Bus:          bus,
		Responder:    gen,
		Prompts:      personaService,
		Dispatcher:   dispatcher,
		Log:          logg,
		Cluster:      cluster,
		DefaultDelay: cfg.DefaultResponseDelay,
		AITimeout:    cfg.AITimeout,
	})
	defer inboxService.Close()

	hub := ws.NewHub(bus, inboxService, logg)
	go hub.Run(ctx)

	webhookHandler := webhook.NewHandler(cfg, inboxService, logg)

	r := gin.Default()

	r.Use(api.CORS(cfg.CORSOrigins))

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	// Dashboard API Routes
	api.RegisterRoutes(r.Group("/api"), inboxService, personaService)

	// Realtime Routes
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})
	r.GET("/ws/contacts/:id", func(c *gin.Context) {
		hub.ServeConversation(c.Writer, c.Request, c.Param("id"))
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logg.Info("server starting", "port", cfg.Port, "db_driver", cfg.DBDriver, "ai_provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server shutdown", "error", err)
	}
}
