package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dpoc-dashboard/internal/analytics"
	"dpoc-dashboard/internal/config"
	"dpoc-dashboard/internal/gate"
	"dpoc-dashboard/internal/recorder"
)

const (
	allowedIP = "203.0.113.7"
	secret    = "open sesame"
)

type memRecorder struct {
	recorder.NoopRecorder
	events chan recorder.AccessEvent
}

func (m *memRecorder) RecordAccess(_ context.Context, evt recorder.AccessEvent) error {
	m.events <- evt
	return nil
}

func (m *memRecorder) RecentAccess(_ context.Context, limit int) ([]recorder.AccessEvent, error) {
	return []recorder.AccessEvent{{
		At:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		SessionID: "0123456789abcdef",
		IP:        allowedIP,
		Outcome:   recorder.OutcomeIPMatch,
	}}, nil
}

func testConfig() config.Config {
	return config.Config{
		Port:               8087,
		AllowedIP:          allowedIP,
		Passphrase:         secret,
		SessionIdleMinutes: 60,
		PendingIdleMinutes: 5,
		DisplayTZ:          "UTC",
		DefaultTab:         "dpoc",
		CopyResetMS:        2000,
	}
}

func newTestServer(t *testing.T, cfg config.Config, ip string, lookupErr error) (*HTTPServer, *analytics.MockFeed, *memRecorder) {
	t.Helper()
	resolver := gate.ResolverFunc(func(ctx context.Context) (string, error) {
		return ip, lookupErr
	})
	feed := analytics.NewMockFeed()
	rec := &memRecorder{events: make(chan recorder.AccessEvent, 16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewHTTPServer(cfg, resolver, gate.NewPlainVerifier(cfg.Passphrase), feed, rec, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, feed, rec
}

func do(s *HTTPServer, method, target string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	return doFrom(s, "198.51.100.1:5555", method, target, body, cookie)
}

func doFrom(s *HTTPServer, remoteAddr, method, target string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = remoteAddr
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func sessionCookieOf(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func gateState(t *testing.T, s *HTTPServer, c *http.Cookie) string {
	t.Helper()
	return gateStateFrom(t, s, "198.51.100.1:5555", c)
}

func gateStateFrom(t *testing.T, s *HTTPServer, remoteAddr string, c *http.Cookie) string {
	t.Helper()
	rr := doFrom(s, remoteAddr, http.MethodGet, "/api/gate", nil, c)
	if rr.Code != http.StatusOK {
		t.Fatalf("gate status %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode gate: %v", err)
	}
	return resp.State
}

// authenticate passes the gate through the allow-listed address.
func authenticate(t *testing.T, s *HTTPServer) *http.Cookie {
	t.Helper()
	c := sessionCookieOf(t, do(s, http.MethodGet, "/", nil, nil))
	if st := gateState(t, s, c); st != "AUTHENTICATED" {
		t.Fatalf("state got %s want AUTHENTICATED", st)
	}
	return c
}

func TestAllowListedIPReachesDashboard(t *testing.T) {
	s, _, rec := newTestServer(t, testConfig(), allowedIP, nil)

	rr := do(s, http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `data-state="CHECKING_IP"`) {
		t.Fatalf("first load should show the spinner, got %d: %s", rr.Code, rr.Body.String())
	}
	c := sessionCookieOf(t, rr)
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("session cookie flags: %+v", c)
	}
	if st := gateState(t, s, c); st != "AUTHENTICATED" {
		t.Fatalf("state got %s", st)
	}
	select {
	case evt := <-rec.events:
		if evt.Outcome != recorder.OutcomeIPMatch || evt.IP != allowedIP {
			t.Fatalf("audit event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no audit event")
	}

	rr = do(s, http.MethodGet, "/?tab=globex", nil, c)
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, `data-tab="globex"`) {
		t.Fatalf("dashboard got %d: %s", rr.Code, body)
	}
	if !strings.Contains(body, "NEUTRAL") {
		t.Fatalf("globex without data should show the SMT placeholder")
	}
}

func TestRemoteAddrGateDecidesPerVisitor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewHTTPServer(testConfig(), gate.RemoteAddrResolver{}, gate.NewPlainVerifier(secret),
		analytics.NewMockFeed(), recorder.NewNoopRecorder(), logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	visitors := []struct {
		addr string
		want string
	}{
		{allowedIP + ":40001", "AUTHENTICATED"},
		{"8.8.8.8:1111", "AWAITING_PASSWORD"},
		{"45.33.32.156:2222", "AWAITING_PASSWORD"},
	}
	for _, v := range visitors {
		c := sessionCookieOf(t, doFrom(s, v.addr, http.MethodGet, "/", nil, nil))
		if got := gateStateFrom(t, s, v.addr, c); got != v.want {
			t.Fatalf("visitor %s got %s want %s", v.addr, got, v.want)
		}
	}
}

func TestPasswordFlow(t *testing.T) {
	s, _, rec := newTestServer(t, testConfig(), "192.0.2.99", nil)

	c := sessionCookieOf(t, do(s, http.MethodGet, "/", nil, nil))
	if st := gateState(t, s, c); st != "AWAITING_PASSWORD" {
		t.Fatalf("state got %s", st)
	}

	form := url.Values{"password": {"wrong"}}
	rr := do(s, http.MethodPost, "/gate/password", strings.NewReader(form.Encode()), c)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong passphrase status %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, gate.DeniedMessage) {
		t.Fatalf("missing denial message: %s", body)
	}
	if strings.Contains(body, "wrong") {
		t.Fatal("rejected passphrase must not be echoed back")
	}
	if evt := <-rec.events; evt.Outcome != recorder.OutcomePasswordDenied {
		t.Fatalf("audit event: %+v", evt)
	}

	if rr := do(s, http.MethodGet, "/api/panel/dpoc", nil, c); rr.Code != http.StatusUnauthorized {
		t.Fatalf("panel before auth got %d", rr.Code)
	}

	form.Set("password", secret)
	rr = do(s, http.MethodPost, "/gate/password", strings.NewReader(form.Encode()), c)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("correct passphrase got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	if evt := <-rec.events; evt.Outcome != recorder.OutcomePasswordOK {
		t.Fatalf("audit event: %+v", evt)
	}
	if rr := do(s, http.MethodGet, "/", nil, c); !strings.Contains(rr.Body.String(), `class="dashboard"`) {
		t.Fatalf("expected dashboard after passphrase: %s", rr.Body.String())
	}
}

func TestLookupFailureShowsPasswordForm(t *testing.T) {
	s, _, rec := newTestServer(t, testConfig(), "", errors.New("dial tcp: refused"))

	c := sessionCookieOf(t, do(s, http.MethodGet, "/", nil, nil))
	if st := gateState(t, s, c); st != "AWAITING_PASSWORD" {
		t.Fatalf("state got %s", st)
	}
	if evt := <-rec.events; evt.Outcome != recorder.OutcomeLookupFailed {
		t.Fatalf("audit event: %+v", evt)
	}
}

func TestReloadBeforeAuthStartsOver(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), "192.0.2.99", nil)

	c := sessionCookieOf(t, do(s, http.MethodGet, "/", nil, nil))
	gateState(t, s, c)
	rr := do(s, http.MethodGet, "/", nil, c)
	if !strings.Contains(rr.Body.String(), `data-state="CHECKING_IP"`) {
		t.Fatalf("reload should re-run the check")
	}
	if c2 := sessionCookieOf(t, rr); c2.Value == c.Value {
		t.Fatal("reload should issue a new session")
	}
	if s.Sessions().Len() != 1 {
		t.Fatalf("old session not dropped, have %d", s.Sessions().Len())
	}
}

func TestAPIRequiresSession(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/panel/dpoc"},
		{http.MethodGet, "/api/copy/dpoc"},
		{http.MethodPost, "/api/copied/dpoc"},
		{http.MethodGet, "/api/snapshot"},
		{http.MethodGet, "/ws"},
	} {
		rr := do(s, tc.method, tc.path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s got %d", tc.method, tc.path, rr.Code)
		}
		if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("%s should answer JSON", tc.path)
		}
	}
	if rr := do(s, http.MethodGet, "/api/health", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("health got %d", rr.Code)
	}
}

func TestUnknownTab(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	if rr := do(s, http.MethodGet, "/api/panel/orders", nil, c); rr.Code != http.StatusNotFound {
		t.Fatalf("panel got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/api/copy/orders", nil, c); rr.Code != http.StatusNotFound {
		t.Fatalf("copy got %d", rr.Code)
	}
	if rr := do(s, http.MethodPost, "/api/copied/orders", nil, c); rr.Code != http.StatusNotFound {
		t.Fatalf("copied got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/?tab=orders", nil, c); rr.Code != http.StatusNotFound {
		t.Fatalf("index got %d", rr.Code)
	}
}

func setSnapshot(t *testing.T, feed *analytics.MockFeed, raw string, at time.Time) {
	t.Helper()
	snap, err := analytics.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	feed.Set(analytics.Update{Snapshot: snap, Raw: []byte(raw), FetchedAt: at})
}

func TestCopyReturnsMarkdownAndReverts(t *testing.T) {
	cfg := testConfig()
	cfg.CopyResetMS = 50
	s, feed, _ := newTestServer(t, cfg, allowedIP, nil)
	setSnapshot(t, feed, `{"dpoc":{"dpoc_regime":"trending_on_the_move","direction":"up","net_migration_pts":3.5}}`,
		time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC))
	c := authenticate(t, s)
	sess, ok := s.Sessions().Get(c.Value)
	if !ok {
		t.Fatal("session vanished")
	}

	rr := do(s, http.MethodGet, "/api/copy/dpoc", nil, c)
	if rr.Code != http.StatusOK {
		t.Fatalf("copy got %d: %s", rr.Code, rr.Body.String())
	}
	var text struct {
		Text    string `json:"text"`
		ResetMs int64  `json:"resetMs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &text); err != nil {
		t.Fatalf("decode copy: %v", err)
	}
	if text.ResetMs != 50 {
		t.Fatalf("reset got %d", text.ResetMs)
	}
	for _, want := range []string{"2026-03-02 14:30:00 UTC", "+3.50", "TRENDING ON THE MOVE"} {
		if !strings.Contains(text.Text, want) {
			t.Fatalf("copy text missing %q:\n%s", want, text.Text)
		}
	}
	if sess.Indicator("dpoc").Copied() {
		t.Fatal("fetching the text must not mark the tab copied")
	}

	rr = do(s, http.MethodPost, "/api/copied/dpoc", nil, c)
	if rr.Code != http.StatusOK {
		t.Fatalf("copied got %d: %s", rr.Code, rr.Body.String())
	}
	var done struct {
		Copied  bool  `json:"copied"`
		ResetMs int64 `json:"resetMs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &done); err != nil {
		t.Fatalf("decode copied: %v", err)
	}
	if !done.Copied || done.ResetMs != 50 {
		t.Fatalf("copied response: %+v", done)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sess.Indicator("dpoc").Copied() {
		if time.Now().After(deadline) {
			t.Fatal("indicator never reverted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sess.Indicator("globex").Copied() {
		t.Fatal("other tabs are independent")
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s, feed, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	if rr := do(s, http.MethodGet, "/api/snapshot", nil, c); rr.Code != http.StatusNotFound {
		t.Fatalf("empty snapshot got %d", rr.Code)
	}
	setSnapshot(t, feed, `{"tpo":{"current_poc":5012.25}}`, time.Now())
	rr := do(s, http.MethodGet, "/api/snapshot", nil, c)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "5012.25") {
		t.Fatalf("snapshot got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAccessTrailEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	rr := do(s, http.MethodGet, "/api/access?limit=5", nil, c)
	if rr.Code != http.StatusOK {
		t.Fatalf("access got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, recorder.OutcomeIPMatch) || !strings.Contains(body, `"session": "01234567"`) {
		t.Fatalf("access body: %s", body)
	}
	if rr := do(s, http.MethodGet, "/api/access?limit=0", nil, c); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit got %d", rr.Code)
	}
}

func TestLogoutDropsSession(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	rr := do(s, http.MethodPost, "/logout", nil, c)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("logout got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/api/panel/dpoc", nil, c); rr.Code != http.StatusUnauthorized {
		t.Fatalf("panel after logout got %d", rr.Code)
	}
}

func TestAssetsAreCacheBusted(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	rr := do(s, http.MethodGet, s.js.URL(), nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Cache-Control"), "immutable") {
		t.Fatalf("hashed asset got %d %q", rr.Code, rr.Header().Get("Cache-Control"))
	}
	rr = do(s, http.MethodGet, "/styles.css", nil, nil)
	if rr.Header().Get("Cache-Control") != "no-cache" || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/css") {
		t.Fatalf("unversioned css headers: %v", rr.Header())
	}
}

// dialWS opens an authenticated websocket and returns once the hub delivers
// broadcasts to it. msgs closes when the connection ends.
func dialWS(t *testing.T, s *HTTPServer, c *http.Cookie) (*websocket.Conn, <-chan wsMessage) {
	t.Helper()
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	hdr := http.Header{"Cookie": {c.Name + "=" + c.Value}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	msgs := make(chan wsMessage, 32)
	go func() {
		defer close(msgs)
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			msgs <- m
		}
	}()

	// registration is asynchronous; wait until a broadcast reaches us
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatal("websocket closed while registering")
			}
			if m.Type == "status" {
				return conn, msgs
			}
		case <-tick.C:
			s.SetUpstream(true)
		case <-timeout:
			t.Fatal("websocket never registered")
		}
	}
}

func TestWebsocketCopiedEvent(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	_, msgs := dialWS(t, s, c)

	if rr := do(s, http.MethodPost, "/api/copied/profile", nil, c); rr.Code != http.StatusOK {
		t.Fatalf("copied got %d", rr.Code)
	}
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatal("websocket closed")
			}
			if m.Type != "copied" {
				continue
			}
			data, _ := m.Data.(map[string]any)
			if data["tab"] != "profile" || data["copied"] != true {
				t.Fatalf("copied event: %+v", data)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no copied event")
		}
	}
}

func TestEvictedSessionLosesWebsocket(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), allowedIP, nil)
	c := authenticate(t, s)
	_, msgs := dialWS(t, s, c)

	// the path idle expiry takes
	s.Sessions().Delete(c.Value)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("websocket of an evicted session stayed open")
		}
	}
}
