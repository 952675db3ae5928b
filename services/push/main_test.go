package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidation(t *testing.T) {
	s := &Server{cfg: &Config{}}
	h := s.routes()

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/subscribe", `{"audience":"support-admins","subscription":{"endpoint":"x"}}`, http.StatusBadRequest},
		{http.MethodPost, "/api/subscribe", `not json`, http.StatusBadRequest},
		{http.MethodDelete, "/api/subscribe", `{"audience":"","endpoint":"x"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/notify", `{"title":"t"}`, http.StatusBadRequest},
		{http.MethodGet, "/api/vapid-public", ``, http.StatusServiceUnavailable},
		{http.MethodGet, "/health", ``, http.StatusOK},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestVAPIDPublic(t *testing.T) {
	s := &Server{cfg: &Config{VAPIDPublicKey: "BPub"}}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vapid-public", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BPub", rec.Body.String())
}
