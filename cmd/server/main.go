package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"smartwork_backend/internal/config"
	httpd "smartwork_backend/internal/delivery/http"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/gateway"
	"smartwork_backend/internal/matcher"
	"smartwork_backend/internal/repository"
	"smartwork_backend/internal/usecase"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer repo.Close()

	sepay := gateway.NewSePayClient(gateway.Config{
		BaseURL:           cfg.SePayAPIURL,
		QRBaseURL:         cfg.SePayQRURL,
		APIToken:          cfg.SePayAPIToken,
		AccountNumber:     cfg.SePayAccountNumber,
		BankName:          cfg.SePayBankName,
		WebhookAPIKey:     cfg.SePayWebhookAPIKey,
		WebhookHMACSecret: cfg.SePayWebhookSecret,
		SigMaxAge:         cfg.SigMaxAge(),
		Timeout:           cfg.SePayTimeout(),
	}, nil)
	defer sepay.Close()
	if !sepay.Configured() {
		logger.Warn("sepay credentials missing, payment creation is disabled")
	}

	entitlements := usecase.NewEntitlementPolicy(cfg.PlanDuration())
	reconciler := usecase.NewReconciler(repo, sepay, matcher.Default(), entitlements, int(cfg.SePayListLimit), logger)
	payments := usecase.NewPaymentUsecase(repo, repo, sepay, usecase.PaymentOptions{
		Currency:   cfg.PaymentCurrency,
		Prices:     map[domain.Plan]int64{domain.PlanPremium: cfg.PremiumPrice},
		PendingTTL: cfg.PendingTTL(),
	}, logger)

	h := httpd.NewHandler(payments, reconciler, sepay, repo, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           h.Routes(cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
