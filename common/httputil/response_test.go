package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"message": "accepted"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["message"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusServiceUnavailable, "event log unavailable, retry")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "event log unavailable, retry", body["error"])
}

func TestWriteErrors(t *testing.T) {
	type fieldError struct {
		Field string `json:"field"`
		Code  string `json:"code"`
	}

	w := httptest.NewRecorder()
	WriteErrors(w, http.StatusBadRequest, []fieldError{
		{Field: "channel", Code: "missing_required_field"},
		{Field: "timestamp", Code: "invalid_format"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Errors []fieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Errors, 2)
	assert.Equal(t, "channel", body.Errors[0].Field)
}
