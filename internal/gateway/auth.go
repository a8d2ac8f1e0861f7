package gateway

import (
	"crypto/subtle"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soyeahso/conductor/internal/config"
)

// AuthResult is the outcome of checking a client's credentials.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Credentials are the secrets the gateway accepts.
type Credentials struct {
	Mode     string // "token" | "password"
	Token    string
	Password string
}

// ResolveCredentials reads secrets from config, falling back to
// CONDUCTOR_GATEWAY_TOKEN and CONDUCTOR_GATEWAY_PASSWORD.
func ResolveCredentials(cfg config.GatewayAuth) Credentials {
	c := Credentials{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if c.Token == "" {
		c.Token = os.Getenv("CONDUCTOR_GATEWAY_TOKEN")
	}
	if c.Password == "" {
		c.Password = os.Getenv("CONDUCTOR_GATEWAY_PASSWORD")
	}
	if c.Mode == "" {
		c.Mode = "token"
		if c.Password != "" {
			c.Mode = "password"
		}
	}
	return c
}

// Authorize checks what the client sent against the server's credentials.
func Authorize(server Credentials, client *ConnectAuth) AuthResult {
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	var want, got string
	switch server.Mode {
	case "token":
		want, got = server.Token, client.Token
	case "password":
		want, got = server.Password, client.Password
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
	switch {
	case want == "":
		return AuthResult{Reason: "server " + server.Mode + " not configured"}
	case got == "":
		return AuthResult{Reason: server.Mode + " required"}
	case !constantTimeEqual(got, want):
		return AuthResult{Reason: server.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: server.Mode}
}

// constantTimeEqual compares without leaking length or content via timing.
func constantTimeEqual(a, b string) bool {
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	same := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(sameLen, same, 0) == 1
}

const (
	authFailWindow = 5 * time.Minute
	authMaxFails   = 10
	authMaxHosts   = 10000
)

// failureLimiter blocks hosts that fail the handshake too often. Each host
// holds a token bucket refilled at authMaxFails per authFailWindow; every
// failure spends a token.
type failureLimiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{hosts: make(map[string]*rate.Limiter)}
}

func hostOf(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}

func (l *failureLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[hostOf(remoteAddr)]
	return !ok || lim.Tokens() >= 1
}

func (l *failureLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authMaxHosts {
			l.pruneLocked()
		}
		lim = rate.NewLimiter(rate.Every(authFailWindow/authMaxFails), authMaxFails)
		l.hosts[host] = lim
	}
	lim.Allow()
}

// pruneLocked forgets hosts whose bucket has refilled.
func (l *failureLimiter) pruneLocked() {
	for host, lim := range l.hosts {
		if lim.Tokens() >= authMaxFails {
			delete(l.hosts, host)
		}
	}
}
