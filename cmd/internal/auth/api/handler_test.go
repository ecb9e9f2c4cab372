package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appenteng/ai-assistant/cmd/identity"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/authn"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/session"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
	"github.com/appenteng/ai-assistant/cmd/security/password"
	"github.com/appenteng/ai-assistant/cmd/security/token"
)

const (
	testEmail    = "alice@x.com"
	testUsername = "alice"
	testPassword = "Str0ngPass!"
)

type testEnv struct {
	ts    *httptest.Server
	users identity.Store
}

type testSetup struct {
	cfg          Config
	throttle     authn.Throttle
	users        identity.Store
	sessionStore session.Store
	wrap         func(authn.Sessions) authn.Sessions
}

func testConfig() Config {
	return Config{AllowRegistration: true, MaxBodyBytes: 1 << 16, UnavailableRetryAfter: 5 * time.Second}
}

func newTestEnv(t *testing.T, setup testSetup) *testEnv {
	t.Helper()

	if setup.users == nil {
		setup.users = identity.NewMemoryStore()
	}
	if setup.sessionStore == nil {
		setup.sessionStore = session.NewMemoryStore()
	}

	codec, err := tokens.NewJWTCodec([]byte(strings.Repeat("s", 32)), "authapi-test")
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	sessions, err := session.NewService(session.DefaultConfig(), setup.sessionStore, codec, token.Digester{}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}
	var s authn.Sessions = sessions
	if setup.wrap != nil {
		s = setup.wrap(sessions)
	}

	opts := []authn.Option{authn.WithLogger(slog.New(slog.DiscardHandler))}
	if setup.throttle != nil {
		opts = append(opts, authn.WithThrottle(setup.throttle))
	}
	svc, err := authn.NewService(authn.Deps{
		Users:    setup.users,
		Hasher:   password.NewHasher(password.Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		Policy:   password.DefaultConfig().Policy,
		Codec:    codec,
		Sessions: s,
	}, opts...)
	if err != nil {
		t.Fatalf("authn.NewService: %v", err)
	}

	h, err := NewHandler(slog.New(slog.DiscardHandler), svc, setup.cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, users: setup.users}
}

type result struct {
	status int
	header http.Header
	body   []byte
}

func (e *testEnv) do(t *testing.T, method, path string, body any, bearer string) result {
	t.Helper()

	var rdr io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return result{status: resp.StatusCode, header: resp.Header, body: b}
}

func (e *testEnv) register(t *testing.T) userResponse {
	t.Helper()
	res := e.do(t, http.MethodPost, "/auth/register", registerRequest{Email: testEmail, Username: testUsername, Password: testPassword}, "")
	if res.status != http.StatusCreated {
		t.Fatalf("register: status=%d body=%s", res.status, res.body)
	}
	var out registerResponse
	mustDecode(t, res.body, &out)
	return out.User
}

func (e *testEnv) login(t *testing.T, identifier, pw string) sessionResponse {
	t.Helper()
	res := e.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: identifier, Password: pw}, "")
	if res.status != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", res.status, res.body)
	}
	var out loginResponse
	mustDecode(t, res.body, &out)
	return out.Session
}

func mustDecode(t *testing.T, b []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func errorCode(t *testing.T, b []byte) string {
	t.Helper()
	var e errorResponse
	mustDecode(t, b, &e)
	return e.Error.Code
}

func TestAuthAPI_Flow(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})

	user := env.register(t)
	if user.ID == "" || user.Username != testUsername || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}

	first := env.login(t, testEmail, testPassword)
	if first.TokenType != "Bearer" || first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("unexpected session: %+v", first)
	}

	res := env.do(t, http.MethodGet, "/me", nil, first.AccessToken)
	if res.status != http.StatusOK {
		t.Fatalf("/me: status=%d body=%s", res.status, res.body)
	}
	var me meResponse
	mustDecode(t, res.body, &me)
	if me.User.ID != user.ID || me.SessionID != first.SessionID {
		t.Fatalf("unexpected /me: %+v", me)
	}
	if me.User.LastLoginAt == nil {
		t.Fatalf("last_login_at not stamped")
	}
	if res.header.Get("Cache-Control") != "no-store" {
		t.Fatalf("auth responses must not be cached")
	}

	res = env.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, "")
	if res.status != http.StatusOK {
		t.Fatalf("refresh: status=%d body=%s", res.status, res.body)
	}
	var refreshed refreshResponse
	mustDecode(t, res.body, &refreshed)
	if refreshed.Session.SessionID != first.SessionID || refreshed.Session.RefreshToken == first.RefreshToken {
		t.Fatalf("unexpected rotation: %+v", refreshed.Session)
	}

	// Replaying the consumed refresh token ends the session.
	res = env.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, "")
	if res.status != http.StatusUnauthorized || errorCode(t, res.body) != codeUnauthorized {
		t.Fatalf("reuse: status=%d body=%s", res.status, res.body)
	}
	res = env.do(t, http.MethodGet, "/me", nil, refreshed.Session.AccessToken)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("session should be revoked after reuse, got %d", res.status)
	}

	second := env.login(t, testUsername, testPassword)
	res = env.do(t, http.MethodPost, "/auth/logout", nil, second.AccessToken)
	if res.status != http.StatusNoContent {
		t.Fatalf("logout: status=%d body=%s", res.status, res.body)
	}
	res = env.do(t, http.MethodPost, "/auth/logout", nil, second.AccessToken)
	if res.status != http.StatusNoContent {
		t.Fatalf("logout must be idempotent, got %d", res.status)
	}
	res = env.do(t, http.MethodGet, "/me", nil, second.AccessToken)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("/me after logout: %d", res.status)
	}
}

func TestAuthAPI_LoginFailure_NoEnumeration(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})
	env.register(t)

	a := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: "nobody@x.com", Password: testPassword}, "")
	b := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: "Wrong-Passw0rd!"}, "")

	if a.status != http.StatusUnauthorized || b.status != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", a.status, b.status)
	}
	if !bytes.Equal(a.body, b.body) {
		t.Fatalf("bodies differ:\n%s\n%s", a.body, b.body)
	}
	if errorCode(t, a.body) != codeInvalidCredentials {
		t.Fatalf("unexpected code: %s", a.body)
	}
}

func TestAuthAPI_InactiveLoginLooksLikeBadPassword(t *testing.T) {
	users := identity.NewMemoryStore()
	env := newTestEnv(t, testSetup{cfg: testConfig(), users: users})
	u := env.register(t)
	s := env.login(t, testEmail, testPassword)

	if err := users.SetActive(context.Background(), u.ID, false, time.Now()); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	wrong := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: "Wrong-Passw0rd!"}, "")
	inactive := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: testPassword}, "")
	if inactive.status != http.StatusUnauthorized || !bytes.Equal(wrong.body, inactive.body) {
		t.Fatalf("inactive login leaked state: %d %s", inactive.status, inactive.body)
	}

	// An already-authenticated caller learns the account is inactive.
	res := env.do(t, http.MethodGet, "/me", nil, s.AccessToken)
	if res.status != http.StatusForbidden || errorCode(t, res.body) != "inactive" {
		t.Fatalf("/me inactive: %d %s", res.status, res.body)
	}
}

func TestAuthAPI_BadRequests(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"login invalid json", http.MethodPost, "/auth/login", "{", http.StatusBadRequest, "invalid_json"},
		{"login unknown field", http.MethodPost, "/auth/login", `{"identifier":"a","password":"b","remember":true}`, http.StatusBadRequest, "invalid_json"},
		{"login trailing data", http.MethodPost, "/auth/login", `{"identifier":"a","password":"b"} {}`, http.StatusBadRequest, "invalid_json"},
		{"login missing password", http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail}, http.StatusBadRequest, "invalid_request"},
		{"refresh missing token", http.MethodPost, "/auth/refresh", refreshRequest{}, http.StatusBadRequest, "invalid_request"},
		{"refresh garbage", http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "garbage"}, http.StatusUnauthorized, codeUnauthorized},
		{"me without token", http.MethodGet, "/me", nil, http.StatusUnauthorized, codeUnauthorized},
		{"logout without token", http.MethodPost, "/auth/logout", nil, http.StatusUnauthorized, codeUnauthorized},
		{"logout_all without token", http.MethodPost, "/auth/logout_all", nil, http.StatusUnauthorized, codeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := env.do(t, tc.method, tc.path, tc.body, "")
			if res.status != tc.status {
				t.Fatalf("status=%d want %d body=%s", res.status, tc.status, res.body)
			}
			if got := errorCode(t, res.body); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		res := env.do(t, http.MethodGet, "/auth/login", nil, "")
		if res.status != http.StatusMethodNotAllowed || res.header.Get("Allow") != http.MethodPost {
			t.Fatalf("status=%d allow=%q", res.status, res.header.Get("Allow"))
		}
	})

	t.Run("logout with garbage token succeeds", func(t *testing.T) {
		res := env.do(t, http.MethodPost, "/auth/logout", nil, "garbage")
		if res.status != http.StatusNoContent {
			t.Fatalf("status=%d", res.status)
		}
	})
}

func TestAuthAPI_RegisterErrors(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})
	env.register(t)

	cases := []struct {
		name   string
		req    registerRequest
		status int
		code   string
	}{
		{"duplicate email", registerRequest{Email: "ALICE@x.com", Username: "alice2", Password: testPassword}, http.StatusConflict, "conflict"},
		{"duplicate username", registerRequest{Email: "a2@x.com", Username: "ALICE", Password: testPassword}, http.StatusConflict, "conflict"},
		{"bad email", registerRequest{Email: "nope", Username: "bob", Password: testPassword}, http.StatusBadRequest, "invalid_request"},
		{"weak password", registerRequest{Email: "bob@x.com", Username: "bob", Password: "short"}, http.StatusBadRequest, "weak_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := env.do(t, http.MethodPost, "/auth/register", tc.req, "")
			if res.status != tc.status || errorCode(t, res.body) != tc.code {
				t.Fatalf("status=%d body=%s", res.status, res.body)
			}
		})
	}

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowRegistration = false
		closed := newTestEnv(t, testSetup{cfg: cfg})
		res := closed.do(t, http.MethodPost, "/auth/register", registerRequest{Email: testEmail, Username: testUsername, Password: testPassword}, "")
		if res.status != http.StatusNotFound {
			t.Fatalf("status=%d", res.status)
		}
	})
}

func TestAuthAPI_IdentifierRateLimit(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig(), throttle: authn.NewMemoryThrottle(2, time.Minute)})
	env.register(t)

	for i := 0; i < 2; i++ {
		res := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: "Wrong-Passw0rd!"}, "")
		if res.status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status=%d", i, res.status)
		}
	}

	res := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: testPassword}, "")
	if res.status != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
	if ra := res.header.Get("Retry-After"); ra == "" || ra == "0" {
		t.Fatalf("missing Retry-After: %q", ra)
	}
}

func TestAuthAPI_IPRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.LoginIPMax = 3
	cfg.LoginIPWindow = time.Minute
	env := newTestEnv(t, testSetup{cfg: cfg})
	env.register(t)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("nobody%d@x.com", i)
		res := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: id, Password: testPassword}, "")
		if res.status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status=%d", i, res.status)
		}
	}

	res := env.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: testEmail, Password: testPassword}, "")
	if res.status != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
	if res.header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After=%q", res.header.Get("Retry-After"))
	}
}

type downSessions struct {
	authn.Sessions
}

func (downSessions) IsLive(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", session.ErrUnavailable)
}

func TestAuthAPI_UnavailableIs503(t *testing.T) {
	env := newTestEnv(t, testSetup{
		cfg:  testConfig(),
		wrap: func(s authn.Sessions) authn.Sessions { return downSessions{Sessions: s} },
	})
	env.register(t)
	s := env.login(t, testEmail, testPassword)

	res := env.do(t, http.MethodGet, "/me", nil, s.AccessToken)
	if res.status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
	if res.header.Get("Retry-After") != "5" {
		t.Fatalf("Retry-After=%q", res.header.Get("Retry-After"))
	}
	if errorCode(t, res.body) != "unavailable" {
		t.Fatalf("body=%s", res.body)
	}
}

func TestAuthAPI_ChangePassword(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})
	env.register(t)
	s := env.login(t, testEmail, testPassword)

	res := env.do(t, http.MethodPost, "/auth/password", changePasswordRequest{OldPassword: "Wrong-Passw0rd!", NewPassword: "N3w-Passw0rd!"}, s.AccessToken)
	if res.status != http.StatusUnauthorized || errorCode(t, res.body) != codeInvalidCredentials {
		t.Fatalf("wrong old: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/auth/password", changePasswordRequest{OldPassword: testPassword, NewPassword: "weak"}, s.AccessToken)
	if res.status != http.StatusBadRequest || errorCode(t, res.body) != "weak_password" {
		t.Fatalf("weak: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodPost, "/auth/password", changePasswordRequest{OldPassword: testPassword, NewPassword: "N3w-Passw0rd!"}, s.AccessToken)
	if res.status != http.StatusNoContent {
		t.Fatalf("change: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodGet, "/me", nil, s.AccessToken)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("old session should be revoked, got %d", res.status)
	}
	env.login(t, testEmail, "N3w-Passw0rd!")
}

func TestAuthAPI_UpdateProfile(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})
	user := env.register(t)
	s := env.login(t, testEmail, testPassword)

	res := env.do(t, http.MethodPatch, "/me", `{"full_name":"  Alice Liddell "}`, s.AccessToken)
	if res.status != http.StatusOK {
		t.Fatalf("patch: status=%d body=%s", res.status, res.body)
	}
	var me meResponse
	mustDecode(t, res.body, &me)
	if me.User.ID != user.ID || me.User.FullName == nil || *me.User.FullName != "Alice Liddell" || me.SessionID != s.SessionID {
		t.Fatalf("unexpected patch response: %+v", me)
	}

	res = env.do(t, http.MethodGet, "/me", nil, s.AccessToken)
	mustDecode(t, res.body, &me)
	if me.User.FullName == nil || *me.User.FullName != "Alice Liddell" {
		t.Fatalf("name not persisted: %+v", me.User)
	}

	res = env.do(t, http.MethodPatch, "/me", `{"full_name":null}`, s.AccessToken)
	if res.status != http.StatusOK {
		t.Fatalf("clear: status=%d body=%s", res.status, res.body)
	}
	me = meResponse{}
	mustDecode(t, res.body, &me)
	if me.User.FullName != nil {
		t.Fatalf("expected cleared name, got %q", *me.User.FullName)
	}

	cases := []struct {
		name   string
		body   any
		bearer string
		status int
		code   string
	}{
		{"no token", updateProfileRequest{}, "", http.StatusUnauthorized, codeUnauthorized},
		{"garbage token", updateProfileRequest{}, "garbage", http.StatusUnauthorized, codeUnauthorized},
		{"invalid json", "{", s.AccessToken, http.StatusBadRequest, "invalid_json"},
		{"unknown field", `{"email":"mallory@x.com"}`, s.AccessToken, http.StatusBadRequest, "invalid_json"},
		{"oversized name", map[string]string{"full_name": strings.Repeat("x", identity.FullNameMaxLen+1)}, s.AccessToken, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := env.do(t, http.MethodPatch, "/me", tc.body, tc.bearer)
			if res.status != tc.status {
				t.Fatalf("status=%d want %d body=%s", res.status, tc.status, res.body)
			}
			if got := errorCode(t, res.body); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		res := env.do(t, http.MethodDelete, "/me", nil, s.AccessToken)
		if res.status != http.StatusMethodNotAllowed || res.header.Get("Allow") != "GET, PATCH" {
			t.Fatalf("status=%d allow=%q", res.status, res.header.Get("Allow"))
		}
	})
}

func TestAuthAPI_LogoutAll(t *testing.T) {
	env := newTestEnv(t, testSetup{cfg: testConfig()})
	env.register(t)
	a := env.login(t, testEmail, testPassword)
	b := env.login(t, testUsername, testPassword)

	res := env.do(t, http.MethodPost, "/auth/logout_all", nil, a.AccessToken)
	if res.status != http.StatusOK {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
	var out logoutAllResponse
	mustDecode(t, res.body, &out)
	if out.Revoked != 2 {
		t.Fatalf("revoked=%d", out.Revoked)
	}

	res = env.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: b.RefreshToken}, "")
	if res.status != http.StatusUnauthorized {
		t.Fatalf("refresh after logout_all: %d", res.status)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer  abc ":     "abc",
		"Basic abc":        "",
		"Bearer":           "",
		"Token abc def":    "",
		"BEARER abc.def.g": "abc.def.g",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Fatalf("bearerToken(%q)=%q want %q", header, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:1234"
	r.Header.Set("X-Forwarded-For", "bogus, 203.0.113.7, 10.0.0.1")

	if got := clientIP(r, false); got.String() != "10.0.0.9" {
		t.Fatalf("untrusted proxy: got %v", got)
	}
	if got := clientIP(r, true); got.String() != "203.0.113.7" {
		t.Fatalf("trusted proxy: got %v", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "198.51.100.4")
	if got := clientIP(r, true); got.String() != "198.51.100.4" {
		t.Fatalf("x-real-ip: got %v", got)
	}
}
