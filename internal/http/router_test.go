package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondrasimku/file-intake/internal/auth"
	"github.com/ondrasimku/file-intake/internal/config"
	"github.com/ondrasimku/file-intake/internal/intake"
	"github.com/ondrasimku/file-intake/internal/registry"
	"github.com/ondrasimku/file-intake/internal/storage/memory"
	"github.com/ondrasimku/file-intake/internal/validation"
)

func newRouter(t *testing.T, verifier *auth.Verifier, ready func(ctx context.Context) error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(memory.NewMemoryBackend(), registry.Options{Capacity: cfg.Registry.Capacity, Logger: logger})
	require.NoError(t, err)
	pipeline := intake.NewPipeline(reg, intake.Options{Policy: validation.DefaultPolicy(), Logger: logger})

	return NewRouter(Deps{Intake: pipeline, Registry: reg, Ready: ready, Verifier: verifier}, cfg, logger)
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_OpenRoutes(t *testing.T) {
	router := newRouter(t, nil, nil)

	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodGet, "/healthz").Code)
	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodGet, "/readyz").Code)
	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodGet, "/metrics").Code)
	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodGet, "/files").Code)
	assert.Equal(t, nethttp.StatusNotFound, serve(router, nethttp.MethodGet, "/files/none.pdf").Code)
	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodDelete, "/files/none.pdf").Code)
	assert.Equal(t, nethttp.StatusBadRequest, serve(router, nethttp.MethodPost, "/upload").Code)
}

func TestRouter_ReadyReflectsBackend(t *testing.T) {
	router := newRouter(t, nil, func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, nethttp.StatusServiceUnavailable, serve(router, nethttp.MethodGet, "/readyz").Code)
}

func TestRouter_MutatingRoutesRequireToken(t *testing.T) {
	cfg := auth.Config{JWKSUrl: "http://127.0.0.1:0/jwks.json", Issuer: "issuer"}
	verifier := auth.NewVerifier(auth.NewJWKSClient(cfg.JWKSUrl, 60), cfg)
	router := newRouter(t, verifier, nil)

	assert.Equal(t, nethttp.StatusUnauthorized, serve(router, nethttp.MethodPost, "/upload").Code)
	assert.Equal(t, nethttp.StatusUnauthorized, serve(router, nethttp.MethodDelete, "/files?name=a").Code)
	assert.Equal(t, nethttp.StatusUnauthorized, serve(router, nethttp.MethodDelete, "/files/a").Code)
	assert.Equal(t, nethttp.StatusUnauthorized, serve(router, nethttp.MethodDelete, "/admin/files").Code)

	assert.Equal(t, nethttp.StatusOK, serve(router, nethttp.MethodGet, "/files").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newRouter(t, nil, nil)

	req := httptest.NewRequest(nethttp.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
