// Command server runs the conversational agent backend: the provider webhook
// endpoint, the reply pipeline, the reconciliation engine, and the management
// API, all in one process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rfdias/zapagent/internal/config"
	"github.com/rfdias/zapagent/internal/credits"
	"github.com/rfdias/zapagent/internal/delivery"
	"github.com/rfdias/zapagent/internal/events"
	httpapi "github.com/rfdias/zapagent/internal/http"
	"github.com/rfdias/zapagent/internal/knowledge"
	"github.com/rfdias/zapagent/internal/llm"
	"github.com/rfdias/zapagent/internal/observability"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/reconcile"
	"github.com/rfdias/zapagent/internal/repo"
	"github.com/rfdias/zapagent/internal/search"
	"github.com/rfdias/zapagent/internal/services"
	"github.com/rfdias/zapagent/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = time.RFC3339
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Msg("starting zapagent")

	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	pc, err := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("provider client setup failed")
	}

	invoker, err := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("llm client setup failed")
	}

	var meter credits.Meter = credits.Unlimited{}
	if cfg.Credits.BaseURL != "" {
		mc, err := credits.NewClient(cfg.Credits.BaseURL, cfg.Credits.APIKey, cfg.Credits.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("credits client setup failed")
		}
		meter = mc
	} else {
		log.Info().Msg("CREDITS_BASE_URL not set; credit metering disabled")
	}

	var retriever knowledge.Retriever = knowledge.None{}
	switch {
	case cfg.Knowledge.BaseURL != "":
		kc, err := knowledge.NewClient(cfg.Knowledge.BaseURL, cfg.Knowledge.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("knowledge client setup failed")
		}
		retriever = kc
	case cfg.Knowledge.DataPath != "":
		idx, err := search.NewFromFile(cfg.Knowledge.DataPath, 40)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Knowledge.DataPath).Msg("knowledge index load failed")
		}
		retriever = knowledge.Local{Index: idx}
		log.Info().Str("path", cfg.Knowledge.DataPath).Msg("local knowledge index loaded")
	default:
		log.Info().Msg("no knowledge source configured; retrieval disabled")
	}

	var pub events.Publisher = events.Noop{}
	if cfg.Events.AMQPURL != "" {
		ap, err := events.NewAMQP(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			// A dead broker must not keep the pipeline down.
			log.Error().Err(err).Msg("amqp connect failed; event fan-out disabled")
		} else {
			defer ap.Close()
			pub = ap
		}
	}

	engine := delivery.NewEngine(pc, delivery.Options{
		TypingBase:    cfg.Delivery.TypingBase,
		TypingPerChar: cfg.Delivery.TypingPerChar,
		TypingMax:     cfg.Delivery.TypingMax,
		TypingJitter:  cfg.Delivery.TypingJitter,
		SegmentPause:  cfg.Delivery.SegmentPause,
		SendAttempts:  cfg.Delivery.SendAttempts,
		SendTimeout:   cfg.Delivery.SendTimeout,
	})

	assembler := services.NewAssembler(retriever, cfg.Knowledge.TopK)
	pipeline := services.NewPipeline(
		services.NewReplyLimiter(cfg.DefaultMaxPerMinute),
		services.NewConsecutiveGuard(),
		services.NewHistory(cfg.HistoryLimit),
		assembler,
		invoker,
		meter,
		engine,
	)

	rec := reconcile.NewEngine(db, pc)
	disp := services.NewDispatcher(db, rec, pipeline, pub)
	instSvc := services.NewInstanceService(db, pc, rec, disp, cfg.PublicURL)

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		Dispatcher: disp,
		Instances:  instSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	disp.Drain()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("stopped")
}
