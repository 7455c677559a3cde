package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/ich-api/internal/config"
	"github.com/Brownie44l1/ich-api/internal/handlers"
	"github.com/Brownie44l1/ich-api/internal/usecase"
)

func newServeCmd(configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction HTTP server",
		Example: `  # Start on the configured port (default 8000)
  ich-api serve

  # Upload a slice
  curl -X POST -F "file=@slice.dcm" http://localhost:8000/predict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, modelServer, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer modelServer.Close()

			if port != "" {
				cfg.Port = port
			}

			uc := usecase.NewClassificationUseCase(modelServer, logger)
			server := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           newRouter(cfg, uc, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.String("addr", server.Addr),
				zap.Strings("classes", modelServer.Metadata.Classes))
			if err := runHTTPServer(cmd.Context(), server, nil, cfg.ShutdownTimeout, logger); err != nil {
				logger.Error("server failed", zap.Error(err))
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")
	return cmd
}

func newRouter(cfg config.Config, uc *usecase.ClassificationUseCase, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.Logger(logger), handlers.CORS(cfg.CORSOrigins))

	handlers.RegisterRoutes(r, handlers.NewHandler(uc, cfg.MaxUploadBytes, logger))
	return r
}

// runHTTPServer serves until ctx is cancelled, then drains in-flight requests
// for at most drain. A nil listener binds server.Addr. Signal handling lives
// in the command context.
func runHTTPServer(ctx context.Context, server *http.Server, listener net.Listener, drain time.Duration, logger *zap.Logger) error {
	if listener == nil {
		l, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
		}
		listener = l
	}
	logger.Info("listening", zap.String("addr", listener.Addr().String()))

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("draining connections", zap.Duration("timeout", drain), zap.NamedError("cause", context.Cause(ctx)))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
