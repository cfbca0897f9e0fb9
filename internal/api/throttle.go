package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxThrottledClients bounds the per-client table. Local UIs rarely exceed
// a handful of clients; the bound only matters under abuse.
const maxThrottledClients = 1024

// cameraThrottle caps how often one client may switch or retry the camera.
// Each command restarts device negotiation, so bursts from a double-clicking
// UI or a looping script would otherwise keep the camera permanently busy.
type cameraThrottle struct {
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*commandWindow
}

// commandWindow counts commands issued since opened.
type commandWindow struct {
	opened time.Time
	used   int
}

func newCameraThrottle(ctx context.Context, perMinute int, logger *zap.Logger) *cameraThrottle {
	t := &cameraThrottle{
		limit:   perMinute,
		window:  time.Minute,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*commandWindow),
	}
	go t.reap(ctx)
	return t
}

// admit records a command from client and reports whether it may run. When
// refused, wait is the time until the client's window reopens.
func (t *cameraThrottle) admit(client string) (ok bool, wait time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cw, found := t.clients[client]
	if !found || now.Sub(cw.opened) >= t.window {
		if !found && len(t.clients) >= maxThrottledClients {
			t.evictLocked(now)
		}
		t.clients[client] = &commandWindow{opened: now, used: 1}
		return true, 0
	}
	if cw.used < t.limit {
		cw.used++
		return true, 0
	}
	return false, cw.opened.Add(t.window).Sub(now)
}

// evictLocked drops expired windows, then the oldest one if still full.
func (t *cameraThrottle) evictLocked(now time.Time) {
	t.expireLocked(now)
	if len(t.clients) < maxThrottledClients {
		return
	}
	var oldest string
	var opened time.Time
	for client, cw := range t.clients {
		if oldest == "" || cw.opened.Before(opened) {
			oldest, opened = client, cw.opened
		}
	}
	delete(t.clients, oldest)
}

func (t *cameraThrottle) expireLocked(now time.Time) {
	for client, cw := range t.clients {
		if now.Sub(cw.opened) >= t.window {
			delete(t.clients, client)
		}
	}
}

// wrap refuses camera commands over the limit with 429 and Retry-After.
func (t *cameraThrottle) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, wait := t.admit(client)
		if !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			t.logger.Warn("Camera command throttled",
				zap.String("client", client),
				zap.String("path", r.URL.Path),
				zap.Duration("retry_after", wait))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many camera commands. Please wait before trying again."})
			return
		}
		next(w, r)
	}
}

// clientIP uses RemoteAddr only; forwarded headers can be spoofed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (t *cameraThrottle) reap(ctx context.Context) {
	ticker := time.NewTicker(t.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.expireLocked(t.now())
			t.mu.Unlock()
		}
	}
}
