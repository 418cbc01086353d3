package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prediction-auth/internal/factory"
	"prediction-auth/internal/handler"
	"prediction-auth/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	serviceFactory := f.ServiceFactory()

	authHandler := handler.NewAuthHandler(serviceFactory.AuthService(), util.Get())
	router := handler.NewRouter(authHandler, util.Get())

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	cleanupWorker := serviceFactory.CleanupWorker()
	cleanupWorker.Start(workerCtx)

	go func() {
		util.Info("Starting HTTP server",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("HTTP server failed", util.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	util.Info("Shutdown signal received")

	cancelWorker()
	cleanupWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error("Server forced to shutdown", util.ErrorField(err))
	}

	util.Info("Server exited")
}
