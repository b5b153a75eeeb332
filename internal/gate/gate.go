// Package gate implements the access gate in front of the dashboard: an
// allow-listed address skips the passphrase form, everyone else types the
// shared passphrase.
package gate

import (
	"context"
	"log/slog"
	"sync"
)

type State int

const (
	CheckingIP State = iota
	AwaitingPassword
	Authenticated
)

func (s State) String() string {
	switch s {
	case CheckingIP:
		return "CHECKING_IP"
	case AwaitingPassword:
		return "AWAITING_PASSWORD"
	case Authenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// DeniedMessage is shown inline after a wrong passphrase.
const DeniedMessage = "Access Denied: Invalid Credentials"

// Method records how a gate was passed.
type Method string

const (
	MethodIP       Method = "ip"
	MethodPassword Method = "password"
)

// Hooks observe gate transitions. Authenticated runs exactly once, when the
// gate first reaches AUTHENTICATED. Any hook may be nil.
type Hooks struct {
	Authenticated func(Method)
	Denied        func()
	LookupFailed  func(error)
}

// Gate is the per-browser-session access state machine. It is safe for
// concurrent use.
type Gate struct {
	resolver  Resolver
	allowedIP string
	verifier  Verifier
	hooks     Hooks
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	failed   bool
	checking chan struct{} // non-nil while a lookup is in flight
	lastIP   string
}

// New returns a gate in CHECKING_IP.
func New(resolver Resolver, allowedIP string, verifier Verifier, hooks Hooks, logger *slog.Logger) *Gate {
	return &Gate{
		resolver:  resolver,
		allowedIP: allowedIP,
		verifier:  verifier,
		hooks:     hooks,
		log:       logger,
		state:     CheckingIP,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Failed reports whether the last passphrase attempt was rejected.
func (g *Gate) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// IP is the address the last completed lookup returned, if any.
func (g *Gate) IP() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastIP
}

// Check runs the IP lookup if the gate is still in CHECKING_IP and returns the
// resulting state. Concurrent callers share one lookup. A lookup error counts
// as a non-match. If ctx ends before the lookup resolves, the result is
// discarded and the gate stays in CHECKING_IP.
func (g *Gate) Check(ctx context.Context) State {
	g.mu.Lock()
	if g.state != CheckingIP {
		s := g.state
		g.mu.Unlock()
		return s
	}
	if wait := g.checking; wait != nil {
		g.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return g.State()
	}
	done := make(chan struct{})
	g.checking = done
	g.mu.Unlock()

	ip, err := g.resolver.Resolve(ctx)

	g.mu.Lock()
	g.checking = nil
	close(done)
	if ctx.Err() != nil {
		g.mu.Unlock()
		g.log.Debug("ip check abandoned", slog.String("err", ctx.Err().Error()))
		return CheckingIP
	}
	if g.state != CheckingIP {
		s := g.state
		g.mu.Unlock()
		return s
	}
	matched := false
	if err != nil {
		g.log.Warn("ip lookup failed; falling back to passphrase", slog.String("err", err.Error()))
	} else {
		g.lastIP = ip
		matched = g.allowedIP != "" && ip == g.allowedIP
	}
	if !matched {
		g.state = AwaitingPassword
		g.mu.Unlock()
		if err != nil && g.hooks.LookupFailed != nil {
			g.hooks.LookupFailed(err)
		}
		return AwaitingPassword
	}
	g.state = Authenticated
	g.mu.Unlock()
	g.log.Info("access granted by allow-listed ip", slog.String("ip", ip))
	g.authenticated(MethodIP)
	return Authenticated
}

// Submit checks a passphrase. It only acts in AWAITING_PASSWORD: a match moves
// to AUTHENTICATED, anything else sets the error flag and stays put.
func (g *Gate) Submit(passphrase string) State {
	g.mu.Lock()
	if g.state != AwaitingPassword {
		s := g.state
		g.mu.Unlock()
		return s
	}
	if !g.verifier.Verify(passphrase) {
		g.failed = true
		g.mu.Unlock()
		g.log.Info("passphrase rejected")
		if g.hooks.Denied != nil {
			g.hooks.Denied()
		}
		return AwaitingPassword
	}
	g.failed = false
	g.state = Authenticated
	g.mu.Unlock()
	g.log.Info("access granted by passphrase")
	g.authenticated(MethodPassword)
	return Authenticated
}

func (g *Gate) authenticated(m Method) {
	if g.hooks.Authenticated != nil {
		g.hooks.Authenticated(m)
	}
}
