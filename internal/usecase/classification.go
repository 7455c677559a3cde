package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/ich-api/internal/inference"
	"github.com/Brownie44l1/ich-api/internal/logging"
	"github.com/Brownie44l1/ich-api/internal/normalize"
)

// ClassificationUseCase runs an upload through normalization and inference.
// Either both stages succeed or the call fails as a whole.
type ClassificationUseCase struct {
	normalizer *normalize.Normalizer
	dispatcher *inference.Dispatcher
	logger     *zap.Logger
}

// NewClassificationUseCase wires the default normalizer to a dispatcher
// around classifier.
func NewClassificationUseCase(classifier inference.Classifier, logger *zap.Logger) *ClassificationUseCase {
	return &ClassificationUseCase{
		normalizer: normalize.NewNormalizer(logger),
		dispatcher: inference.NewDispatcher(classifier, logger),
		logger:     logger.Named("classification_usecase"),
	}
}

// ClassifyUpload normalizes the upload and classifies the resulting image.
func (uc *ClassificationUseCase) ClassifyUpload(ctx context.Context, requestID string, upload normalize.RawUpload) (*inference.Prediction, error) {
	start := time.Now()

	img, err := uc.normalizer.Normalize(ctx, upload)
	if err != nil {
		opErr := logging.Wrap("usecase.normalize", requestID, err)
		uc.logger.Warn("normalization failed", opErr.Fields(zap.String("filename", upload.Filename))...)
		return nil, opErr
	}

	pred, err := uc.dispatcher.Dispatch(ctx, img)
	if err != nil {
		opErr := logging.Wrap("usecase.dispatch", requestID, err)
		uc.logger.Error("inference failed", opErr.Fields()...)
		return nil, opErr
	}

	logging.WithOperation(uc.logger, "usecase.classify_upload", requestID).Info("upload classified",
		zap.String("label", pred.Label),
		zap.Int("class_index", pred.Index),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Duration("elapsed", time.Since(start)))
	return pred, nil
}

// ClassifyTensor classifies an already preprocessed 1×1×224×224 input.
func (uc *ClassificationUseCase) ClassifyTensor(ctx context.Context, requestID string, data []float32) (*inference.Prediction, error) {
	pred, err := uc.dispatcher.DispatchTensor(ctx, data)
	if err != nil {
		opErr := logging.Wrap("usecase.dispatch_tensor", requestID, err)
		uc.logger.Warn("tensor inference failed", opErr.Fields()...)
		return nil, opErr
	}
	return pred, nil
}
