package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/admission"
)

func TestFromAdmission(t *testing.T) {
	rateErr := &admission.AdmissionError{Reason: admission.ReasonRateLimited, Requestor: "42", RetryAfter: 12400 * time.Millisecond}

	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"rate", rateErr, CodeRateLimited, http.StatusTooManyRequests},
		{"capacity", &admission.AdmissionError{Reason: admission.ReasonCapacity}, CodeCapacityExceeded, http.StatusServiceUnavailable},
		{"invariant", fmt.Errorf("complete: %w", admission.ErrSlotReleaseInvariant), CodeSlotInvariant, http.StatusInternalServerError},
		{"not found", admission.ErrTaskNotFound, CodeNotFound, http.StatusNotFound},
		{"finalized", admission.ErrTaskFinalized, CodeTaskAlreadyFinished, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromAdmission(context.Background(), tc.err)
			require.NotNil(t, envelope)
			require.Equal(t, tc.code, envelope.Code)
			require.Equal(t, tc.status, HTTPStatusFromEnvelope(envelope))
		})
	}

	require.Nil(t, FromAdmission(context.Background(), fmt.Errorf("other")))
	require.Equal(t, "12", FromAdmission(context.Background(), rateErr).Details["retry_after_seconds"])
}

func TestRespondWithErrorRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)

	RespondWithError(rec, req, &admission.AdmissionError{Reason: admission.ReasonRateLimited, RetryAfter: 30 * time.Second})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeRateLimited, body.Error.Code)
	require.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	envelope := EnsureEnvelope(fmt.Errorf("disk full"))
	require.Equal(t, CodeInternal, envelope.Code)
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(envelope))
	require.Equal(t, "disk full", envelope.Context["wrapped_error"])
}
