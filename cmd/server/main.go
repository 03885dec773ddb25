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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nheososweet/60days-rag/internal/chromemdb"
	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/embedding"
	"github.com/nheososweet/60days-rag/internal/llmservice"
	"github.com/nheososweet/60days-rag/internal/pgstore"
	"github.com/nheososweet/60days-rag/internal/pipeline"
	"github.com/nheososweet/60days-rag/internal/rag"
	"github.com/nheososweet/60days-rag/internal/server"
	"github.com/nheososweet/60days-rag/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("loading config")
	}
	if cfg.Server.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	gin.SetMode(cfg.Server.Mode)

	vs, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("opening vector store")
	}

	embedder, err := embedding.NewFromConfig(&cfg.EmbedLLM, &cfg.RAG)
	if err != nil {
		log.Fatal().Err(err).Msg("building embedder")
	}
	llm, err := llmservice.New(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("building chat client")
	}

	engine := rag.NewEngine(vs, embedder, llm, rag.Options{
		Model:          cfg.ChatLLM.Model,
		EmbeddingModel: cfg.EmbedLLM.Model,
		DefaultTopK:    cfg.RAG.TopK,
	})
	processor := pipeline.NewProcessor(vs, embedder, &cfg.RAG)
	srv := server.New(cfg, engine, processor, vs)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Store.Backend).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func openStore(cfg *config.Config) (store.VectorStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		sqldb := pgstore.Connect(cfg.Database.URL, cfg.Database.Key)
		return pgstore.New(context.Background(), sqldb, cfg.RAG.VectorSize, cfg.Database.Debug)
	default:
		return chromemdb.New(cfg.Store.Path, cfg.Store.Collection, cfg.RAG.VectorSize)
	}
}
