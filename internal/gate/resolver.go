package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Resolver reports the address the gate compares against the allow-list.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

var ErrNoIP = errors.New("lookup returned no ip")

// LookupResolver asks a public "what is my IP" service, which answers
// {"ip": "..."}.
type LookupResolver struct {
	url   string
	httpc *http.Client
}

func NewLookupResolver(url string, timeout time.Duration) *LookupResolver {
	return &LookupResolver{url: url, httpc: &http.Client{Timeout: timeout}}
}

func (l *LookupResolver) Resolve(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup status %d", resp.StatusCode)
	}
	var v struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&v); err != nil {
		return "", fmt.Errorf("decode ip lookup: %w", err)
	}
	if v.IP == "" {
		return "", ErrNoIP
	}
	return v.IP, nil
}

type clientIPKey struct{}

// WithClientIP stores the requesting browser's address for RemoteAddrResolver.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// RemoteAddrResolver resolves to the browser address carried in the context
// (see WithClientIP), for deployments where the dashboard is not on the
// trader's own machine.
type RemoteAddrResolver struct{}

func (RemoteAddrResolver) Resolve(ctx context.Context) (string, error) {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	if ip == "" {
		return "", ErrNoIP
	}
	return ip, nil
}

// ClientIP returns the first X-Forwarded-For hop when trusted, otherwise the
// host part of RemoteAddr.
func ClientIP(r *http.Request, trustXFF bool) (string, error) {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, nil
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "", ErrNoIP
	}
	return host, nil
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }
