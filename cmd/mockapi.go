package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/mockapi"
)

var mockapiPort int

var mockapiCmd = &cobra.Command{
	Use:   "mockapi",
	Short: "Serve the demo warehouse and logistics feeds",
	Long:  "Runs an HTTP server with the demo shipment, FX, and warehouse stock endpoints that the default sources.yaml points at.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", mockapiPort),
			Handler: mockapi.NewServer().Router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down mock providers")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("serving mock providers", zap.Int("port", mockapiPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "mockapi listen")
		}

		return nil
	},
}

func init() {
	mockapiCmd.Flags().IntVar(&mockapiPort, "port", 8000, "port for the mock provider server")
	rootCmd.AddCommand(mockapiCmd)
}
