// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/StagOS/android-system-apex/internal/activation"
	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/apex/apextest"
	"github.com/StagOS/android-system-apex/internal/api/middleware"
	"github.com/StagOS/android-system-apex/internal/hooks"
	"github.com/StagOS/android-system-apex/internal/registry"
	"github.com/StagOS/android-system-apex/internal/server"
	"github.com/StagOS/android-system-apex/internal/session/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	reg, err := registry.New(t.TempDir())
	require.NoError(t, err)

	svc, err := server.New(server.Options{
		Store:       st,
		Registry:    reg,
		Verifier:    apex.FileVerifier{},
		Mounter:     activation.DirMounter{},
		Classifier:  activation.DefaultClassifier,
		Hooks:       hooks.New(apex.FileVerifier{}, 10*time.Second),
		PackagesDir: t.TempDir(),
	})
	require.NoError(t, err)

	return New(Options{
		Addr:    "127.0.0.1:0",
		Service: svc,
		Logger:  zerolog.Nop(),
		Stack:   middleware.StackConfig{},
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])
}

func TestSessionEndpoints_FullLifecycle(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{
		"sessionId":    239,
		"packagePaths": []string{path},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions/239", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["isVerified"])

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/239/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions/239", nil)
	require.Equal(t, true, decode(t, rec)["isStaged"])

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/239/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/239/successful", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions/239", nil)
	require.Equal(t, true, decode(t, rec)["isSuccess"])
}

func TestSessionInfo_UnknownIdIs200(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/sessions/4242", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, float64(-1), body["sessionId"])
	require.Equal(t, true, body["isUnknown"])
}

func TestSessionEndpoints_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	// Unknown session on a mutation: 404.
	rec := doJSON(t, h, http.MethodPost, "/v1/sessions/404/ready", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, false, decode(t, rec)["success"])

	// Wrong state: 409.
	rec = doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{
		"sessionId": 1, "packagePaths": []string{path},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/1/successful", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Verification failure: 400.
	bad := apextest.WriteCorrupt(t, dir, "bad.apex")
	rec = doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{
		"sessionId": 2, "packagePaths": []string{bad},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body and id.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions/notanint", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPackageEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.tz", Version: 3})

	rec := doJSON(t, h, http.MethodPost, "/v1/packages/stage", map[string]any{
		"packagePaths": []string{path},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/packages/activate", map[string]any{
		"packagePath": path,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/packages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pkgs, ok := decode(t, rec)["packages"].([]any)
	require.True(t, ok)
	require.Len(t, pkgs, 1)

	rec = doJSON(t, h, http.MethodGet, "/v1/packages/com.os.tz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(3), decode(t, rec)["version"])

	rec = doJSON(t, h, http.MethodGet, "/v1/packages/com.os.absent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/packages/deactivate", map[string]any{
		"packagePath": path,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/packages", nil)
	pkgs, _ = decode(t, rec)["packages"].([]any)
	require.Empty(t, pkgs)
}

func TestHookEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{
		Name: "com.os.media", Version: 1,
		PreInstallHook: "bin/pre",
		Hooks:          map[string]string{"bin/pre": "#!/bin/sh\nexit 0\n"},
	})

	rec := doJSON(t, h, http.MethodPost, "/v1/hooks/preinstall", map[string]any{
		"packagePaths": []string{path},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	failing := apextest.Write(t, dir, apextest.Bundle{
		Name: "com.os.net", Version: 1,
		PostInstallHook: "bin/post",
		Hooks:           map[string]string{"bin/post": "#!/bin/sh\nexit 1\n"},
	})
	rec = doJSON(t, h, http.MethodPost, "/v1/hooks/postinstall", map[string]any{
		"packagePaths": []string{failing},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, false, decode(t, rec)["success"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{
		"sessionId": 7, "packagePaths": []string{path},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions, ok := decode(t, rec)["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]any)
	require.Equal(t, float64(7), first["sessionId"])
	require.Equal(t, true, first["isVerified"])
}
