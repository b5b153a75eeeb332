package server

import (
	"context"
	"net/http"

	"dpoc-dashboard/internal/gate"
	"dpoc-dashboard/internal/state"
)

const sessionCookie = "dpoc_session"

// setSessionCookie writes the session id as an HttpOnly browser-session
// cookie. No MaxAge: closing the browser forgets it.
func setSessionCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// session returns the live session named by the request cookie.
func (s *HTTPServer) session(r *http.Request) (*state.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.store.Get(c.Value)
}

// newSession replaces any session the browser had with a fresh one in
// CHECKING_IP.
func (s *HTTPServer) newSession(w http.ResponseWriter, r *http.Request) *state.Session {
	if old, ok := s.session(r); ok {
		s.dropSession(old.ID)
	}
	sess := s.store.Create()
	setSessionCookie(w, sess.ID, s.cfg.SecureCookie)
	return sess
}

// dropSession removes a session; the store's evict hook closes its sockets.
func (s *HTTPServer) dropSession(id string) {
	s.store.Delete(id)
}

type ctxKey struct{}

func sessionFrom(ctx context.Context) *state.Session {
	sess, _ := ctx.Value(ctxKey{}).(*state.Session)
	return sess
}

// requireAuth lets the request through only for an AUTHENTICATED session.
func (s *HTTPServer) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(r)
		if !ok || sess.Gate.State() != gate.Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

// withClientIP puts the caller's address on the context for resolvers that
// read it from there.
func (s *HTTPServer) withClientIP(r *http.Request) context.Context {
	ip, err := gate.ClientIP(r, s.cfg.TrustForwardedFor)
	if err != nil {
		return r.Context()
	}
	return gate.WithClientIP(r.Context(), ip)
}
