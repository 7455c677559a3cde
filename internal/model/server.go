// Package model hosts the ONNX Runtime sessions for the hemorrhage classifier.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/ich-api/internal/inference"
)

// ErrClosed is returned by Classify once Close has been called.
var ErrClosed = errors.New("model server is closed")

// Options configures NewServer.
type Options struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	PoolSize          int
}

// session binds one AdvancedSession to its own input and output tensors.
// A session is used by a single goroutine at a time.
type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
}

// Server is the process-wide classifier. Weights are loaded once and never
// mutated; concurrent Classify calls are spread over a fixed session pool.
type Server struct {
	Metadata Metadata
	pool     chan *session
	all      []*session
	logger   *zap.Logger

	ortReady  bool
	closeOnce sync.Once
}

var _ inference.Classifier = (*Server)(nil)

func NewServer(opts Options, logger *zap.Logger) (*Server, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	logger = logger.Named("model")

	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := &Server{
		Metadata: metadata,
		pool:     make(chan *session, opts.PoolSize),
		logger:   logger,
		ortReady: true,
	}
	for i := 0; i < opts.PoolSize; i++ {
		sess, err := newSession(opts.ModelPath, metadata)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.all = append(s.all, sess)
		s.pool <- sess
	}

	logger.Info("model loaded",
		zap.String("path", opts.ModelPath),
		zap.Int("sessions", opts.PoolSize),
		zap.Int64s("input_shape", metadata.InputShape),
		zap.Strings("classes", metadata.Classes))
	return s, nil
}

func newSession(modelPath string, metadata Metadata) (*session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{session: sess, inputTensor: inputTensor, outputTensor: outputTensor}, nil
}

// Classify runs one forward pass and returns a copy of the logits.
func (s *Server) Classify(ctx context.Context, input inference.Tensor) ([]float32, error) {
	var sess *session
	select {
	case got, ok := <-s.pool:
		if !ok {
			return nil, ErrClosed
		}
		sess = got
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { s.pool <- sess }()

	return runSession(sess, input)
}

func runSession(sess *session, input inference.Tensor) ([]float32, error) {
	dst := sess.inputTensor.GetData()
	if len(input.Data) != len(dst) {
		return nil, fmt.Errorf("input has %d values, session expects %d", len(input.Data), len(dst))
	}
	copy(dst, input.Data)

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := sess.outputTensor.GetData()
	if len(out) == 0 {
		return nil, errors.New("model produced no output")
	}
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

// Close waits for in-flight forward passes to hand their sessions back, then
// releases every session and the ONNX environment. Later Classify calls
// return ErrClosed. Calling Close again is a no-op.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for range s.all {
			(<-s.pool).destroy()
		}
		close(s.pool)
		s.all = nil

		if !s.ortReady {
			return
		}
		if err := ort.DestroyEnvironment(); err != nil {
			s.logger.Warn("failed to destroy ONNX environment", zap.Error(err))
		}
	})
}
