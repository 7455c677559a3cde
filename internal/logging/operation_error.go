package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// OperationError ties a failure to the pipeline step and request it
// happened in.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// Wrap annotates a non-nil err with its operation and request.
func Wrap(operation, requestID string, err error) *OperationError {
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

func (e *OperationError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Fields renders the error as structured log fields, with the cause under
// "error" rather than the annotated message.
func (e *OperationError) Fields(extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, 3+len(extra))
	fields = append(fields, zap.String("operation", e.Operation))
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	fields = append(fields, zap.Error(e.Err))
	return append(fields, extra...)
}
