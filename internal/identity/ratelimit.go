package identity

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Login throttling defaults.
const (
	DefaultMaxFailures     = 5
	DefaultFailureWindow   = 15 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// LimiterConfig configures a LoginLimiter.
type LimiterConfig struct {
	MaxFailures     int
	Window          time.Duration
	CleanupInterval time.Duration
}

// DefaultLimiterConfig returns the default login throttling configuration.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxFailures:     DefaultMaxFailures,
		Window:          DefaultFailureWindow,
		CleanupInterval: DefaultCleanupInterval,
	}
}

type failures struct {
	count int
	first time.Time
}

// LoginLimiter counts failed sign-ins per client and blocks a client once it
// reaches MaxFailures within Window. A success clears the count.
type LoginLimiter struct {
	mu       sync.Mutex
	clients  map[string]*failures
	cfg      LimiterConfig
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLoginLimiter creates a limiter and starts its cleanup loop. Call Stop
// to end it.
func NewLoginLimiter(cfg LimiterConfig) *LoginLimiter {
	def := DefaultLimiterConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	l := &LoginLimiter{
		clients: make(map[string]*failures),
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *LoginLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *LoginLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, f := range l.clients {
		if now.Sub(f.first) > l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

// Stop ends the cleanup loop.
func (l *LoginLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Blocked reports whether key has used up its failures in the current
// window.
func (l *LoginLimiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.clients[key]
	if !ok || l.now().Sub(f.first) > l.cfg.Window {
		return false
	}
	return f.count >= l.cfg.MaxFailures
}

// Fail records a failed attempt for key.
func (l *LoginLimiter) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	f, ok := l.clients[key]
	if !ok || now.Sub(f.first) > l.cfg.Window {
		l.clients[key] = &failures{count: 1, first: now}
		return
	}
	f.count++
}

// Succeed clears the failures for key.
func (l *LoginLimiter) Succeed(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, key)
}

// ClientIP returns the client address of r. Forwarding headers are only
// honoured when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
