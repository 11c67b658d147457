package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/mirror"
	"github.com/sirosfoundation/go-linkshare/internal/orchestrator"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
	"github.com/sirosfoundation/go-linkshare/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeMirror struct {
	manifest []string
	summary  *mirror.Summary
	err      error

	gotURL  string
	gotPath string
}

func (f *fakeMirror) FetchManifest(_ context.Context, baseURL string) ([]string, error) {
	f.gotURL = baseURL
	return f.manifest, f.err
}

func (f *fakeMirror) FetchTree(_ context.Context, baseURL, localPath string) (*mirror.Summary, error) {
	f.gotURL, f.gotPath = baseURL, localPath
	return f.summary, f.err
}

type testEnv struct {
	handlers *Handlers
	router   *gin.Engine
	store    *memory.Store
	orch     *orchestrator.Orchestrator
	mirror   *fakeMirror
}

func setupTestHandlers(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	orch, err := orchestrator.New(orchestrator.Config{
		BindHost:     "127.0.0.1",
		DrainTimeout: time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	env := &testEnv{
		store:  memory.NewStore(),
		orch:   orch,
		mirror: &fakeMirror{},
	}
	env.handlers = NewHandlers(env.store, orch, Options{
		StorageType: "memory",
		Mirror:      env.mirror,
		Version:     "test",
	}, logger)

	router := gin.New()
	h := env.handlers
	router.GET("/status", h.Status)
	router.GET("/api/linked-paths", h.ListLinkedPaths)
	router.POST("/api/linked-paths", h.LinkPath)
	router.DELETE("/api/linked-paths/:name", h.UnlinkPath)
	router.GET("/api/networks", h.ListNetworks)
	router.POST("/api/networks", h.CreateNetwork)
	router.GET("/api/networks/:name", h.GetNetwork)
	router.DELETE("/api/networks/:name", h.RemoveNetwork)
	router.POST("/api/servers", h.StartServer)
	router.POST("/api/networks/:name/servers", h.StartNetworkServer)
	router.GET("/api/networks/:name/servers", h.ListServers)
	router.DELETE("/api/networks/:name/servers/:id", h.StopServer)
	router.GET("/api/networks/:name/servers/:id/qr", h.ServerQRCode)
	router.GET("/api/remote/manifest", h.RemoteManifest)
	router.POST("/api/mirror", h.Mirror)
	env.router = router
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func sharedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644))
	return dir
}

func TestHandlers_Status(t *testing.T) {
	env := setupTestHandlers(t)

	w := env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[StatusResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "linkshare", resp.Service)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, CurrentAPIVersion, resp.APIVersion)
	assert.Contains(t, resp.Capabilities, "mirror")
	assert.Equal(t, "memory", resp.Storage)
	assert.True(t, resp.StorageHealthy)
	assert.Equal(t, 0, resp.RunningServers)
}

func TestHandlers_StatusWithoutMirror(t *testing.T) {
	env := setupTestHandlers(t)
	env.handlers.mirror = nil

	resp := decode[StatusResponse](t, env.do(t, http.MethodGet, "/status", nil))
	assert.NotContains(t, resp.Capabilities, "mirror")
	assert.Contains(t, resp.Capabilities, "servers")
}

func TestHandlers_LinkedPaths(t *testing.T) {
	env := setupTestHandlers(t)

	w := env.do(t, http.MethodPost, "/api/linked-paths", domain.LinkedPath{Name: "music", Path: "/srv/music"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/linked-paths", domain.LinkedPath{Name: "music", Path: "/elsewhere"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/linked-paths", domain.LinkedPath{Name: "a/b", Path: "/srv"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/linked-paths", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		LinkedPaths []domain.LinkedPath `json:"linked_paths"`
	}](t, w)
	assert.Equal(t, []domain.LinkedPath{{Name: "music", Path: "/srv/music"}}, list.LinkedPaths)

	w = env.do(t, http.MethodDelete, "/api/linked-paths/music", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/linked-paths/music", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_LinkPathBadBody(t *testing.T) {
	env := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/linked-paths", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Networks(t *testing.T) {
	env := setupTestHandlers(t)
	network := domain.Network{
		Name:        "home",
		LinkedPaths: []domain.LinkedPath{{Name: "docs", Path: "/srv/docs"}},
	}

	w := env.do(t, http.MethodPost, "/api/networks", network)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/networks", network)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/networks", domain.Network{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/networks/home", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, network, decode[domain.Network](t, w))

	w = env.do(t, http.MethodGet, "/api/networks", nil)
	list := decode[struct {
		Networks []domain.Network `json:"networks"`
	}](t, w)
	assert.Len(t, list.Networks, 1)

	w = env.do(t, http.MethodDelete, "/api/networks/home", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/networks/home", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_StartListStopInline(t *testing.T) {
	env := setupTestHandlers(t)
	network := domain.Network{
		Name:        "office",
		LinkedPaths: []domain.LinkedPath{{Name: "shared", Path: sharedDir(t)}},
	}

	w := env.do(t, http.MethodPost, "/api/servers", StartServerRequest{Mode: domain.ModeLocalHost, Network: network})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	started := decode[ServerResponse](t, w)
	assert.Equal(t, "office", started.Network)
	assert.Equal(t, uint64(1), started.ID)
	require.NotEmpty(t, started.Addresses)

	// The instance serves the manifest right away.
	resp, err := http.Get(started.Addresses[0].URL() + "/")
	require.NoError(t, err)
	var manifest []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&manifest))
	resp.Body.Close()
	assert.Equal(t, []string{"shared"}, manifest)

	w = env.do(t, http.MethodGet, "/api/networks/office/servers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Network string               `json:"network"`
		Servers []domain.ServerGroup `json:"servers"`
	}](t, w)
	require.Len(t, list.Servers, 1)
	assert.Equal(t, started.ID, list.Servers[0].ID)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/networks/office/servers/%d", started.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/networks/office/servers/%d", started.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/networks/office/servers", nil)
	list = decode[struct {
		Network string               `json:"network"`
		Servers []domain.ServerGroup `json:"servers"`
	}](t, w)
	assert.Empty(t, list.Servers)
	assert.NotNil(t, list.Servers)
}

func TestHandlers_StartSavedNetwork(t *testing.T) {
	env := setupTestHandlers(t)
	require.NoError(t, env.store.CreateNetwork(context.Background(), domain.Network{
		Name:        "home",
		LinkedPaths: []domain.LinkedPath{{Name: "shared", Path: sharedDir(t)}},
	}))

	w := env.do(t, http.MethodPost, "/api/networks/home/servers", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "home", decode[ServerResponse](t, w).Network)

	w = env.do(t, http.MethodPost, "/api/networks/home/servers", StartNetworkServerRequest{Mode: domain.ModeDarkWeb})
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = env.do(t, http.MethodPost, "/api/networks/missing/servers", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, env.orch.ListServers("home"), 1)
}

func TestHandlers_StartSavedNetworkBodyless(t *testing.T) {
	env := setupTestHandlers(t)
	require.NoError(t, env.store.CreateNetwork(context.Background(), domain.Network{
		Name:        "home",
		LinkedPaths: []domain.LinkedPath{{Name: "shared", Path: sharedDir(t)}},
	}))

	// Chunked requests carry no length even when the body is empty.
	req := httptest.NewRequest(http.MethodPost, "/api/networks/home/servers", bytes.NewReader(nil))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/networks/home/servers", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Len(t, env.orch.ListServers("home"), 1)
}

func TestHandlers_StartServerErrors(t *testing.T) {
	env := setupTestHandlers(t)
	valid := domain.Network{
		Name:        "n",
		LinkedPaths: []domain.LinkedPath{{Name: "shared", Path: sharedDir(t)}},
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing mode", map[string]any{"network": valid}, http.StatusBadRequest},
		{"unknown mode", map[string]any{"mode": "Carrier", "network": valid}, http.StatusBadRequest},
		{"no linked paths", StartServerRequest{Mode: domain.ModeLocalHost, Network: domain.Network{Name: "n"}}, http.StatusBadRequest},
		{"internet", StartServerRequest{Mode: domain.ModeInternet, Network: valid}, http.StatusNotImplemented},
		{"darkweb", StartServerRequest{Mode: domain.ModeDarkWeb, Network: valid}, http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/servers", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, 0, env.orch.Running())
}

func TestHandlers_StopServerInvalidID(t *testing.T) {
	env := setupTestHandlers(t)

	for _, id := range []string{"abc", "0", "-1"} {
		w := env.do(t, http.MethodDelete, "/api/networks/home/servers/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestHandlers_ServerQRCode(t *testing.T) {
	env := setupTestHandlers(t)
	group, err := env.orch.StartServer(context.Background(), domain.ModeLocalHost, domain.Network{
		Name:        "home",
		LinkedPaths: []domain.LinkedPath{{Name: "shared", Path: sharedDir(t)}},
	})
	require.NoError(t, err)

	path := fmt.Sprintf("/api/networks/home/servers/%d/qr", group.ID)

	w := env.do(t, http.MethodGet, path+"?size=128", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, group.Addresses[0].URL(), w.Header().Get("X-Server-URL"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	w = env.do(t, http.MethodGet, path+"?size=5000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, path+"?address=10.9.9.9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/networks/home/servers/999/qr", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPickAddress(t *testing.T) {
	addrs := []domain.Address{
		{IP: "127.0.0.1", Port: 8080},
		{IP: "192.168.1.10", Port: 8080},
	}

	a, ok := pickAddress(addrs, "")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", a.IP)

	a, ok = pickAddress(addrs, "127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", a.IP)

	a, ok = pickAddress(addrs[:1], "")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", a.IP)

	_, ok = pickAddress(nil, "")
	assert.False(t, ok)
}

func TestHandlers_RemoteManifest(t *testing.T) {
	env := setupTestHandlers(t)
	env.mirror.manifest = []string{"music", "docs"}

	w := env.do(t, http.MethodGet, "/api/remote/manifest?url=http://192.168.1.20:8080", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://192.168.1.20:8080", env.mirror.gotURL)
	assert.Contains(t, w.Body.String(), `"linked_paths":["music","docs"]`)

	w = env.do(t, http.MethodGet, "/api/remote/manifest", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.mirror.err = fmt.Errorf("%w: status 404", mirror.ErrRemote)
	w = env.do(t, http.MethodGet, "/api/remote/manifest?url=http://peer", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandlers_Mirror(t *testing.T) {
	env := setupTestHandlers(t)
	env.mirror.summary = &mirror.Summary{Directories: 2, Files: 3, Bytes: 42}

	w := env.do(t, http.MethodPost, "/api/mirror", MirrorRequest{BaseURL: "http://peer:8080", LocalPath: "/tmp/dest"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, *env.mirror.summary, decode[mirror.Summary](t, w))
	assert.Equal(t, "/tmp/dest", env.mirror.gotPath)

	w = env.do(t, http.MethodPost, "/api/mirror", map[string]string{"base_url": "http://peer"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.mirror.err = fmt.Errorf("%w: loopback addresses are blocked", mirror.ErrBlocked)
	w = env.do(t, http.MethodPost, "/api/mirror", MirrorRequest{BaseURL: "http://127.0.0.1", LocalPath: "/tmp/dest"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_MirrorUnavailable(t *testing.T) {
	env := setupTestHandlers(t)
	env.handlers.mirror = nil

	w := env.do(t, http.MethodGet, "/api/remote/manifest?url=http://peer", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodPost, "/api/mirror", MirrorRequest{BaseURL: "http://peer", LocalPath: "/tmp"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrNoLinkedPaths, http.StatusBadRequest},
		{fmt.Errorf("%w: bad name", orchestrator.ErrInvalidNetwork), http.StatusBadRequest},
		{orchestrator.ErrUnknownMode, http.StatusBadRequest},
		{storage.ErrInvalidInput, http.StatusBadRequest},
		{orchestrator.ErrModeNotImplemented, http.StatusNotImplemented},
		{orchestrator.ErrServerNotFound, http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{orchestrator.ErrNetworkBusy, http.StatusConflict},
		{&orchestrator.StartError{Network: "n", Kind: orchestrator.StartKindBind, Err: orchestrator.ErrBind}, http.StatusConflict},
		{storage.ErrAlreadyExists, http.StatusConflict},
		{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
		{orchestrator.ErrPortsExhausted, http.StatusServiceUnavailable},
		{mirror.ErrRemote, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHandlers_InternalErrorHidesDetail(t *testing.T) {
	env := setupTestHandlers(t)
	env.router.GET("/boom", func(c *gin.Context) {
		env.handlers.respondError(c, errors.New("secret detail"), "Failed to do the thing")
	})

	w := env.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
	assert.Contains(t, w.Body.String(), "Failed to do the thing")
}
