package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/acquire"
	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/render"
	"github.com/mikeyg42/circlecam/internal/state"
)

type fakeCamera struct {
	mu       sync.Mutex
	switches int
	retries  int
	err      error
}

func (c *fakeCamera) Switch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switches++
	return c.err
}

func (c *fakeCamera) Retry(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
	return c.err
}

func (c *fakeCamera) Devices() ([]acquire.Device, error) {
	return []acquire.Device{{ID: "cam-1", Label: "Front"}}, nil
}

func (c *fakeCamera) Constraints() acquire.Constraints { return acquire.DefaultConstraints() }

type fixture struct {
	app     *state.AppState
	camera  *fakeCamera
	surface *render.Surface
	server  *Server
}

func newFixture(t *testing.T, mutate ...func(*config.ServerConfig)) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig().Server
	for _, m := range mutate {
		m(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		app:     state.New(state.DefaultParams()),
		camera:  &fakeCamera{},
		surface: render.NewSurface(),
	}
	f.server = NewServer(ctx, cfg, f.app, f.camera, f.surface, zap.NewNop())
	return f
}

func (f *fixture) do(method, path, body, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if remote == "" {
		remote = "127.0.0.1:50000"
	}
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	f.app.Telemetry.SetStatus("Camera ready", "")

	rec := f.do(http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/api/status", "", "")
	var snap state.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if snap.Status != "Camera ready" {
		t.Fatalf("status = %q", snap.Status)
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("index = %d", rec.Code)
	}
	for _, want := range []string{"Enable camera", "Switch camera", "minRadius", "/ws"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("page lacks %q", want)
		}
	}
	if rec := f.do(http.MethodGet, "/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path = %d", rec.Code)
	}
}

func TestParamsEndpoint(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, p state.Params)
	}{
		{"Raise min radius", `{"minRadius": 150}`, http.StatusOK, func(t *testing.T, p state.Params) {
			if p.MinRadius != 150 || p.MaxRadius != 160 {
				t.Fatalf("min=%d max=%d, want 150/160", p.MinRadius, p.MaxRadius)
			}
		}},
		{"Lower max radius", `{"maxRadius": 5}`, http.StatusOK, func(t *testing.T, p state.Params) {
			if p.MinRadius != 0 || p.MaxRadius != 5 {
				t.Fatalf("min=%d max=%d, want 0/5", p.MinRadius, p.MaxRadius)
			}
		}},
		{"Switch blur", `{"blur": "gaussian", "blurKernel": 6}`, http.StatusOK, func(t *testing.T, p state.Params) {
			if p.Blur != state.BlurGaussian || p.BlurKernel != 7 {
				t.Fatalf("blur=%s kernel=%d", p.Blur, p.BlurKernel)
			}
		}},
		{"Unknown blur", `{"blur": "box"}`, http.StatusBadRequest, nil},
		{"Unknown field", `{"radius": 3}`, http.StatusBadRequest, nil},
		{"Not JSON", `min=3`, http.StatusBadRequest, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/params", tc.body, "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.check == nil {
				if f.app.Params.Snapshot() != state.DefaultParams() {
					t.Fatal("rejected update must not change parameters")
				}
				return
			}
			var p state.Params
			json.NewDecoder(rec.Body).Decode(&p)
			tc.check(t, p)
			if f.app.Params.Snapshot() != p {
				t.Fatal("response differs from stored parameters")
			}
		})
	}

	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/params", "", "")
	var p state.Params
	json.NewDecoder(rec.Body).Decode(&p)
	if p != state.DefaultParams() {
		t.Fatalf("GET params = %+v", p)
	}
}

func TestCameraEndpoints(t *testing.T) {
	testCases := []struct {
		name       string
		path       string
		remote     string
		tls        bool
		err        error
		wantStatus int
		wantKind   fault.Kind
		wantCalls  int
	}{
		{"Switch from loopback", "/api/camera/switch", "", false, nil, http.StatusOK, "", 1},
		{"Retry from loopback", "/api/camera/retry", "[::1]:4000", false, nil, http.StatusOK, "", 1},
		{"Remote over plain HTTP", "/api/camera/switch", "192.0.2.10:5000", false, nil, http.StatusForbidden, fault.UnsupportedContext, 0},
		{"Remote with TLS configured", "/api/camera/switch", "192.0.2.10:5000", true, nil, http.StatusOK, "", 1},
		{"Permission denied", "/api/camera/retry", "", false, fault.New(fault.PermissionDenied, "acquire", fault.ErrPermission), http.StatusForbidden, fault.PermissionDenied, 1},
		{"No device", "/api/camera/switch", "", false, fault.New(fault.NoDevice, "acquire", fault.ErrNoDevice), http.StatusNotFound, fault.NoDevice, 1},
		{"Busy", "/api/camera/switch", "", false, fault.New(fault.DeviceBusy, "acquire", fault.ErrBusy), http.StatusConflict, fault.DeviceBusy, 1},
		{"Unclassified", "/api/camera/switch", "", false, errors.New("boom"), http.StatusInternalServerError, fault.Unknown, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.ServerConfig) {
				if tc.tls {
					c.TLSCertFile, c.TLSKeyFile = "cert.pem", "key.pem"
				}
			})
			f.camera.err = tc.err

			rec := f.do(http.MethodPost, tc.path, "", tc.remote)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.wantKind != "" {
				var body errorBody
				json.NewDecoder(rec.Body).Decode(&body)
				if body.ErrorKind != tc.wantKind {
					t.Fatalf("errorKind = %q, want %q", body.ErrorKind, tc.wantKind)
				}
			}
			if calls := f.camera.switches + f.camera.retries; calls != tc.wantCalls {
				t.Fatalf("camera called %d times, want %d", calls, tc.wantCalls)
			}
		})
	}
}

func TestCameraEndpointsRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.ServerConfig) { c.CameraRatePerMinute = 2 })
	for i := 0; i < 2; i++ {
		if rec := f.do(http.MethodPost, "/api/camera/switch", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := f.do(http.MethodPost, "/api/camera/switch", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("throttled response should carry Retry-After")
	}
	// Switch and retry draw from the same budget.
	if rec := f.do(http.MethodPost, "/api/camera/retry", "", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("retry after exhausted budget = %d, want 429", rec.Code)
	}
	// Another client has its own budget.
	if rec := f.do(http.MethodPost, "/api/camera/switch", "", "127.0.0.2:1"); rec.Code != http.StatusOK {
		t.Fatalf("other client = %d", rec.Code)
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/devices", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cam-1") {
		t.Fatalf("devices = %d %s", rec.Code, rec.Body)
	}
}

func TestFrameEndpoint(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/frame.jpg", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("frame before render = %d", rec.Code)
	}

	f.surface.Resize(64, 48)
	f.surface.Present(image.NewNRGBA(image.Rect(0, 0, 64, 48)))
	rec := f.do(http.MethodGet, "/frame.jpg", "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("frame = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if b := rec.Body.Bytes(); len(b) < 2 || b[0] != 0xff || b[1] != 0xd8 {
		t.Fatal("body is not a JPEG")
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/params", nil)
	req.Header.Set("Origin", "http://localhost:7000")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:7000" {
		t.Fatalf("preflight = %d, origin %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not get CORS headers")
	}
}

func TestCameraThrottle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th := newCameraThrottle(ctx, 2, zap.NewNop())
	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	t.Run("window", func(t *testing.T) {
		if ok, _ := th.admit("a"); !ok {
			t.Fatal("first command should pass")
		}
		now = now.Add(20 * time.Second)
		if ok, _ := th.admit("a"); !ok {
			t.Fatal("second command should pass")
		}
		ok, wait := th.admit("a")
		if ok {
			t.Fatal("third command within the window should be refused")
		}
		if wait != 40*time.Second {
			t.Fatalf("wait = %v, want 40s", wait)
		}
		now = now.Add(40 * time.Second)
		if ok, _ := th.admit("a"); !ok {
			t.Fatal("window elapsed, command should pass")
		}
	})

	t.Run("table stays bounded", func(t *testing.T) {
		for i := 0; i < maxThrottledClients+10; i++ {
			now = now.Add(time.Millisecond)
			th.admit("10.0.0." + strconv.Itoa(i))
		}
		th.mu.Lock()
		n := len(th.clients)
		th.mu.Unlock()
		if n > maxThrottledClients {
			t.Fatalf("tracked clients = %d, want <= %d", n, maxThrottledClients)
		}
	})
}

func readMessage(t *testing.T, conn *websocket.Conn, wantType string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if m.Type == wantType {
			return m
		}
	}
}

func TestWebsocketTelemetryAndParams(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readMessage(t, conn, "telemetry")

	f.app.Telemetry.ReportFrame(3, 5*time.Millisecond, 29.5)
	for {
		m := readMessage(t, conn, "telemetry")
		data, _ := json.Marshal(m.Data)
		var snap state.Snapshot
		json.Unmarshal(data, &snap)
		if snap.CircleCount == 3 {
			break
		}
	}

	minR := 120
	if err := conn.WriteJSON(Message{Type: "params", Params: &state.Update{MinRadius: &minR}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.app.Params.Snapshot().MinRadius != 120 {
		if time.Now().After(deadline) {
			t.Fatal("params update not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.app.Params.Snapshot().MaxRadius; got != 130 {
		t.Fatalf("max radius = %d, want 130", got)
	}

	conn.WriteJSON(Message{Type: "shout"})
	if m := readMessage(t, conn, "error"); !strings.Contains(m.Data.(string), "unknown message type") {
		t.Fatalf("error message = %v", m.Data)
	}
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("Serve returned %v, want ErrServerClosed", err)
	}
}
