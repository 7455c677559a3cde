package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/ich-api/internal/config"
	"github.com/Brownie44l1/ich-api/internal/logging"
	"github.com/Brownie44l1/ich-api/internal/model"
)

const version = "0.2.0"

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ich-api",
		Short: "Intracranial hemorrhage classification service",
		Long: `ich-api classifies CT slices (DICOM, PNG, JPEG and other raster formats)
into one of six hemorrhage classes using a DenseNet-121 ONNX model.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Optional YAML config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newPredictCmd(&configPath))
	return cmd
}

// loadRuntime reads configuration, builds the logger and loads the model.
func loadRuntime(configPath string) (config.Config, *zap.Logger, *model.Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	root := projectRoot()
	modelServer, err := model.NewServer(model.Options{
		ModelPath:         resolvePath(root, cfg.ModelPath),
		MetadataPath:      resolvePath(root, cfg.MetadataPath),
		SharedLibraryPath: cfg.SharedLibraryPath,
		PoolSize:          cfg.SessionPoolSize,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, nil, logging.Wrap("model.load", "", err)
	}
	return cfg, logger, modelServer, nil
}

// projectRoot is the working directory, or the repository root when the
// binary is started from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
