package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/api"
	"github.com/punchamoorthee/payoutops/internal/config"
	"github.com/punchamoorthee/payoutops/internal/ledger"
	"github.com/punchamoorthee/payoutops/internal/party"
	"github.com/punchamoorthee/payoutops/internal/service"
	"github.com/punchamoorthee/payoutops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	payoutStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer payoutStore.Close()

	directory, err := party.NewDirectory(
		party.NewHTTPClient(cfg.PartyURL, cfg.RemoteTimeout),
		cfg.PartyCacheSize,
		logger)
	if err != nil {
		logger.Fatal("unable to build party directory", zap.Error(err))
	}

	ledgerClient := ledger.NewClient(
		ledger.NewHTTPAccounter(cfg.LedgerURL, cfg.RemoteTimeout),
		payoutStore,
		cfg.LedgerRetryAttempts,
		cfg.LedgerRetryInterval,
		logger)

	payoutService := service.NewPayoutService(payoutStore, ledgerClient, directory, logger)
	handler := api.NewHandler(payoutService, payoutStore, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Register(r.PathPrefix("/api/v1").Subrouter())

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
