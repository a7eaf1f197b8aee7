package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type healthStub bool

func (h healthStub) HasHealthyExecutionNodes() bool { return bool(h) }

func TestHealthHandler(t *testing.T) {
	for healthy, want := range map[bool]int{true: http.StatusOK, false: http.StatusServiceUnavailable} {
		rec := httptest.NewRecorder()
		healthHandler(healthStub(healthy)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, want, rec.Code)
	}
}

func TestIgnoreClosed(t *testing.T) {
	assert.NoError(t, ignoreClosed(nil))
	assert.NoError(t, ignoreClosed(http.ErrServerClosed))

	err := errors.New("address in use")
	assert.Equal(t, err, ignoreClosed(err))
}
