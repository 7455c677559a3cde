package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/ich-api/internal/inference"
	"github.com/Brownie44l1/ich-api/internal/normalize"
	"github.com/Brownie44l1/ich-api/internal/usecase"
)

func newPredictCmd(configPath *string) *cobra.Command {
	var showScores bool

	cmd := &cobra.Command{
		Use:   "predict FILE...",
		Short: "Classify local image files without starting the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, modelServer, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer modelServer.Close()

			uc := usecase.NewClassificationUseCase(modelServer, logger)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			failed := 0
			for _, path := range args {
				upload, err := readUpload(path)
				if err != nil {
					return err
				}
				pred, err := uc.ClassifyUpload(cmd.Context(), uuid.NewString(), upload)
				if err != nil {
					failed++
					fmt.Fprintf(w, "%s\terror: %v\n", path, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", path, pred.Label)
				if showScores {
					writeScores(w, pred)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be classified", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showScores, "scores", "s", false, "Print per-class probabilities")
	return cmd
}

func readUpload(path string) (normalize.RawUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return normalize.RawUpload{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return normalize.RawUpload{
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Filename:    filepath.Base(path),
	}, nil
}

func writeScores(w *tabwriter.Writer, pred *inference.Prediction) {
	for i, p := range pred.Probabilities {
		label, _ := inference.Label(i)
		fmt.Fprintf(w, "\t  %s\t%.4f\n", label, p)
	}
}
