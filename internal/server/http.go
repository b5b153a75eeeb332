package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"dpoc-dashboard/internal/analytics"
	"dpoc-dashboard/internal/config"
	"dpoc-dashboard/internal/gate"
	"dpoc-dashboard/internal/recorder"
	"dpoc-dashboard/internal/render"
	"dpoc-dashboard/internal/state"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

type HTTPServer struct {
	cfg      config.Config
	resolver gate.Resolver
	verifier gate.Verifier
	feed     analytics.Feed
	rec      recorder.Recorder
	store    *state.Store
	hub      *hub
	log      *slog.Logger
	mux      *http.ServeMux
	tmpl     *template.Template
	js       *asset
	css      *asset
	loc      *time.Location
	now      func() time.Time

	upstreamOK atomic.Bool
}

func NewHTTPServer(cfg config.Config, resolver gate.Resolver, verifier gate.Verifier, feed analytics.Feed, rec recorder.Recorder, logger *slog.Logger) (*HTTPServer, error) {
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
	}).ParseFS(webFS, "web/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	js, err := loadAsset("app.js", "text/javascript; charset=utf-8")
	if err != nil {
		return nil, err
	}
	css, err := loadAsset("styles.css", "text/css; charset=utf-8")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	s := &HTTPServer{
		cfg:      cfg,
		resolver: resolver,
		verifier: verifier,
		feed:     feed,
		rec:      rec,
		hub:      newHub(logger),
		log:      logger,
		mux:      http.NewServeMux(),
		tmpl:     tmpl,
		js:       js,
		css:      css,
		loc:      cfg.Location(),
		now:      time.Now,
	}
	s.store = state.NewStore(cfg.SessionIdle(), cfg.PendingIdle(), config.Tabs(), s.newGate, s.newIndicator, s.hub.disconnect)
	s.routes()
	go s.hub.run()
	return s, nil
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// Sessions exposes the session store for housekeeping.
func (s *HTTPServer) Sessions() *state.Store { return s.store }

func (s *HTTPServer) newGate(sessionID string) *gate.Gate {
	var g *gate.Gate
	hooks := gate.Hooks{
		Authenticated: func(m gate.Method) {
			outcome := recorder.OutcomePasswordOK
			if m == gate.MethodIP {
				outcome = recorder.OutcomeIPMatch
			}
			s.recordAccess(sessionID, g.IP(), outcome, "")
		},
		Denied: func() {
			s.recordAccess(sessionID, g.IP(), recorder.OutcomePasswordDenied, "")
		},
		LookupFailed: func(err error) {
			s.recordAccess(sessionID, "", recorder.OutcomeLookupFailed, err.Error())
		},
	}
	g = gate.New(s.resolver, s.cfg.AllowedIP, s.verifier, hooks, s.log.With(slog.String("session", shortID(sessionID))))
	return g
}

func (s *HTTPServer) newIndicator(sessionID, tab string) *state.Indicator {
	return state.NewIndicator(s.cfg.CopyReset(), func(copied bool) {
		s.hub.sendTo(sessionID, marshalWS("copied", map[string]any{"tab": tab, "copied": copied}))
	})
}

func (s *HTTPServer) recordAccess(sessionID, ip, outcome, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.rec.RecordAccess(ctx, recorder.AccessEvent{
		At:        s.now(),
		SessionID: sessionID,
		IP:        ip,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		s.log.Warn("record access", slog.String("outcome", outcome), slog.String("err", err.Error()))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --------- WS broadcasts ----------

// SetUpstream records whether the analytics backend answered its last fetch.
func (s *HTTPServer) SetUpstream(ok bool) {
	s.upstreamOK.Store(ok)
	s.hub.sendAll(marshalWS("status", map[string]any{"upstreamOK": ok}))
}

// BroadcastSnapshot tells every dashboard that a new snapshot is available.
// Clients pull the panel they show, so gated content never rides the
// broadcast itself.
func (s *HTTPServer) BroadcastSnapshot(u analytics.Update) {
	s.hub.sendAll(marshalWS("snapshot", map[string]any{
		"timestamp": s.displayTime(u.FetchedAt),
		"timeISO":   u.FetchedAt.UTC().Format(time.RFC3339Nano),
	}))
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /{$}", s.serveIndex)
	s.mux.HandleFunc("GET /app.js", s.js.serve)
	s.mux.HandleFunc("GET /styles.css", s.css.serve)

	// Gate
	s.mux.HandleFunc("GET /api/gate", s.apiGate)
	s.mux.HandleFunc("POST /gate/password", s.submitPassword)
	s.mux.HandleFunc("POST /logout", s.logout)

	// WS
	s.mux.Handle("GET /ws", s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		s.hub.serveWS(w, r, sessionFrom(r.Context()).ID)
	}))

	// API
	s.mux.HandleFunc("GET /api/health", s.apiHealth)
	s.mux.Handle("GET /api/panel/{tab}", s.requireAuth(s.apiPanel))
	s.mux.Handle("GET /api/copy/{tab}", s.requireAuth(s.apiCopy))
	s.mux.Handle("POST /api/copied/{tab}", s.requireAuth(s.apiCopied))
	s.mux.Handle("GET /api/snapshot", s.requireAuth(s.apiSnapshot))
	s.mux.Handle("GET /api/access", s.requireAuth(s.apiAccess))
}

type pageData struct {
	Title  string
	JSURL  string
	CSSURL string

	// gate
	State string
	Error string

	// dashboard
	Tab        string
	Tabs       []string
	Timestamp  string
	Age        string
	UpstreamOK bool
	Panel      panelData
}

type panelData struct {
	View    render.View
	Copied  bool
	ResetMS int
}

func (s *HTTPServer) page(title string) pageData {
	return pageData{Title: title, JSURL: s.js.URL(), CSSURL: s.css.URL()}
}

// serveIndex shows the dashboard to an authenticated session. Any other
// visit starts over in CHECKING_IP with a fresh session.
func (s *HTTPServer) serveIndex(w http.ResponseWriter, r *http.Request) {
	tab := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("tab")))
	if tab == "" {
		tab = s.cfg.DefaultTab
	}
	if !config.ValidTab(tab) {
		http.NotFound(w, r)
		return
	}

	sess, ok := s.session(r)
	if !ok || sess.Gate.State() != gate.Authenticated {
		sess = s.newSession(w, r)
		s.renderGate(w, http.StatusOK, sess.Gate)
		return
	}

	u, have := s.feed.Latest()
	view, _ := render.Tab(tab, u.Snapshot, s.timestampOf(u, have))
	data := s.page("DPOC Terminal | " + view.Title)
	data.Tab = tab
	data.Tabs = config.Tabs()
	data.Timestamp = view.Timestamp
	if have {
		data.Age = humanize.RelTime(u.FetchedAt, s.now(), "ago", "from now")
	}
	data.UpstreamOK = s.upstreamOK.Load()
	data.Panel = s.panel(sess, view)
	s.execute(w, http.StatusOK, "dashboard", data)
}

func (s *HTTPServer) renderGate(w http.ResponseWriter, status int, g *gate.Gate) {
	data := s.page("DPOC Terminal")
	data.State = g.State().String()
	if g.Failed() {
		data.Error = gate.DeniedMessage
	}
	s.execute(w, status, "gate", data)
}

func (s *HTTPServer) panel(sess *state.Session, view render.View) panelData {
	p := panelData{View: view, ResetMS: s.cfg.CopyResetMS}
	if ind := sess.Indicator(view.Tab); ind != nil {
		p.Copied = ind.Copied()
	}
	return p
}

func (s *HTTPServer) execute(w http.ResponseWriter, status int, name string, data any) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		s.log.Error("render template", slog.String("template", name), slog.String("err", err.Error()))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(b.String()))
}

// GET /api/gate runs the IP check for the caller's session. The request
// context bounds the lookup, so a closed tab abandons it.
func (s *HTTPServer) apiGate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	st := sess.Gate.Check(s.withClientIP(r))
	writeJSON(w, map[string]any{
		"state": st.String(),
		"error": sess.Gate.Failed(),
	})
}

// POST /gate/password (form field "password")
func (s *HTTPServer) submitPassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	st := sess.Gate.Submit(r.PostForm.Get("password"))
	if st == gate.Authenticated {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	status := http.StatusOK
	if sess.Gate.Failed() {
		status = http.StatusUnauthorized
	}
	s.renderGate(w, status, sess.Gate)
}

func (s *HTTPServer) logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(r); ok {
		s.dropSession(sess.ID)
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":         true,
		"upstreamOK": s.upstreamOK.Load(),
		"sessions":   s.store.Len(),
	}
	if u, ok := s.feed.Latest(); ok {
		resp["lastFetch"] = u.FetchedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, resp)
}

// GET /api/panel/{tab} returns the HTML fragment of one tab.
func (s *HTTPServer) apiPanel(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(r.PathValue("tab"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tab")
		return
	}
	s.execute(w, http.StatusOK, "panel", s.panel(sessionFrom(r.Context()), view))
}

// GET /api/copy/{tab} returns the markdown copy text. It does not touch the
// indicator: the browser reports a finished clipboard write separately.
func (s *HTTPServer) apiCopy(w http.ResponseWriter, r *http.Request) {
	tab := strings.ToLower(r.PathValue("tab"))
	view, ok := s.view(tab)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tab")
		return
	}
	writeJSON(w, map[string]any{
		"tab":     tab,
		"text":    view.Markdown(),
		"resetMs": s.cfg.CopyResetMS,
	})
}

// POST /api/copied/{tab} starts the tab's "copied" indicator once the text
// is on the clipboard.
func (s *HTTPServer) apiCopied(w http.ResponseWriter, r *http.Request) {
	tab := strings.ToLower(r.PathValue("tab"))
	ind := sessionFrom(r.Context()).Indicator(tab)
	if ind == nil {
		writeError(w, http.StatusNotFound, "unknown tab")
		return
	}
	ind.Trigger()
	writeJSON(w, map[string]any{
		"tab":     tab,
		"copied":  ind.Copied(),
		"resetMs": ind.Window().Milliseconds(),
	})
}

func (s *HTTPServer) apiSnapshot(w http.ResponseWriter, r *http.Request) {
	u, ok := s.feed.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	raw := json.RawMessage(u.Raw)
	if !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	writeJSON(w, map[string]any{
		"fetchedAt": u.FetchedAt.UTC().Format(time.RFC3339Nano),
		"timestamp": s.displayTime(u.FetchedAt),
		"snapshot":  raw,
	})
}

// GET /api/access?limit=N lists the newest gate decisions.
func (s *HTTPServer) apiAccess(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}
	events, err := s.rec.RecentAccess(r.Context(), limit)
	if err != nil {
		s.log.Warn("read access trail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "access trail unavailable")
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"at":      e.At.UTC().Format(time.RFC3339),
			"session": shortID(e.SessionID),
			"ip":      e.IP,
			"outcome": e.Outcome,
			"detail":  e.Detail,
		})
	}
	writeJSON(w, map[string]any{"events": out})
}

func (s *HTTPServer) view(tab string) (render.View, bool) {
	tab = strings.ToLower(strings.TrimSpace(tab))
	if !config.ValidTab(tab) {
		return render.View{}, false
	}
	u, have := s.feed.Latest()
	return render.Tab(tab, u.Snapshot, s.timestampOf(u, have))
}

func (s *HTTPServer) timestampOf(u analytics.Update, have bool) string {
	if !have {
		return render.NA
	}
	return s.displayTime(u.FetchedAt)
}

func (s *HTTPServer) displayTime(t time.Time) string {
	return t.In(s.loc).Format(timestampLayout)
}

// StartJanitor drops idle sessions every interval until ctx ends.
func (s *HTTPServer) StartJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.store.GC(); n > 0 {
				s.log.Debug("expired idle sessions", slog.Int("count", n))
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
