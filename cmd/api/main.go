package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/ordercompletion/internal/bootstrap"
	"github.com/cassiomorais/ordercompletion/internal/controller"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "ordercompletion-api", "ordercompletion")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Application services ---
	comp, err := app.Completion()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire completion service")
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Service:   comp.Service,
		Scheduler: comp.Scheduler,
		HealthChecks: []controller.HealthCheck{
			{Name: "database", Ping: app.Pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:     app.Metrics,
		ServiceName: "ordercompletion-api",
		CORSConfig:  app.Config.Server.CORS,
		RateLimit:   app.Config.Server.RateLimit,
		JWTSecret:   app.Config.Auth.JWTSecret,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
