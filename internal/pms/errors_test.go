package pms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("book appointment: %w", &Error{Code: CodeWritebackTimeout, Message: "writeback W1 still pending"})
	assert.True(t, errors.Is(err, ErrWritebackTimeout))
	assert.False(t, errors.Is(err, ErrWritebackFailed))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "writeback W1 still pending", pe.Message)
}

func TestErrorString(t *testing.T) {
	err := &Error{Code: CodeUpstream, Message: "GET /patients", Status: 502, Err: errors.New("bad gateway")}
	assert.Equal(t, "UPSTREAM_ERROR: GET /patients (status 502): bad gateway", err.Error())
}

func TestCodeOfAndHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   Code
		status int
	}{
		{"nil", nil, "", http.StatusOK},
		{"invalid", Invalid("patient id is required"), CodeInvalidRequest, http.StatusBadRequest},
		{"not found", ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"writeback failed", &Error{Code: CodeWritebackFailed, Message: "slot taken"}, CodeWritebackFailed, http.StatusUnprocessableEntity},
		{"timeout", ErrWritebackTimeout, CodeWritebackTimeout, http.StatusGatewayTimeout},
		{"cancelled", fmt.Errorf("poll: %w", context.Canceled), CodeCancelled, http.StatusGatewayTimeout},
		{"foreign", errors.New("boom"), CodeUpstream, http.StatusBadGateway},
		{"credentials", NewError(CodeCredentials, "no integration"), CodeCredentials, http.StatusPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	res := HandleError[*Appointment](&Error{Code: CodeWritebackFailed, Message: "Provider not available"})
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeWritebackFailed, res.Error.Code)
	assert.Equal(t, "Provider not available", res.Error.Message)

	res = HandleError[*Appointment](errors.New("dial tcp: refused"))
	assert.Equal(t, CodeUpstream, res.Error.Code)
	assert.Equal(t, "dial tcp: refused", res.Error.Message)
}

func TestOK(t *testing.T) {
	res := OK(&Appointment{ID: "W123"})
	assert.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.Equal(t, "W123", res.Data.ID)
}
