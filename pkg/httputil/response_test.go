package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-1")

	WriteError(w, http.StatusConflict, errors.New("already open"))

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "already open", body.Error)
	assert.Equal(t, "req-1", body.RequestID)
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "x") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "x") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "x") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "x") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "x") }, http.StatusConflict},
		{"no content", WriteNoContent, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWriteUnauthorized_SetsChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "missing token")
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestWriteInternalError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
}
