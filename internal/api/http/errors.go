package http

import (
	"context"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/internal/logger"
)

// statusClientClosedRequest is reported when the caller went away before
// the query finished.
const statusClientClosedRequest = 499

// statusFor maps an error to the HTTP status reported for it.
func statusFor(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return statusClientClosedRequest
	}
	switch errors.GetCode(err) {
	case errors.CodeNotFound, errors.CodeIndexNotFound, errors.CodeObjectNotFound:
		return http.StatusNotFound
	case errors.CodeDuplicateKey, errors.CodeIndexExists:
		return http.StatusConflict
	case errors.CodeInvalidQuery, errors.CodeInvalidDocument,
		errors.CodeInvalidPartitionKey, errors.CodeSchemaViolation:
		return http.StatusBadRequest
	case errors.CodeCancelled:
		return statusClientClosedRequest
	}
	if errors.IsRetryable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDocError writes err with the status statusFor picks. Server-side
// failures are logged.
func writeDocError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error(), errors.GetCode(err), GetRequestID(r.Context()))
}
