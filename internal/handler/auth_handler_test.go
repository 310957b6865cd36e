package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/nightguard/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, username, email, password string) (*model.Session, error)
	loginFn          func(ctx context.Context, username, password string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, email, password string) (*model.Session, error) {
	return m.registerFn(ctx, username, email, password)
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.Session, error) {
	return m.loginFn(ctx, username, password)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return m.getCurrentUserFn(ctx, sessionID)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestRegister_Success_SetsSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, username, email, password string) (*model.Session, error) {
			return &model.Session{ID: "new-session", UserID: "user-1"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{SessionMaxAge: 86400})

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"walker1","email":"w@example.edu","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("session cookie should be set")
	}
	if cookie.Value != "new-session" {
		t.Errorf("cookie value = %q", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HTTP only")
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("cookie MaxAge = %d, want 86400", cookie.MaxAge)
	}
}

func TestRegister_UsernameTaken_Returns409(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, username, email, password string) (*model.Session, error) {
			return nil, model.ErrUsernameTaken
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"walker1","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRegister_MissingFields_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"username":"walker1"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogin_Success_SetsSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.Session, error) {
			if username != "walker1" || password != "secret123" {
				t.Errorf("unexpected credentials: %s", username)
			}
			return &model.Session{ID: "login-session", UserID: "user-1"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{SessionMaxAge: 86400})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"walker1","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cookie := sessionCookie(rec)
	if cookie == nil || cookie.Value != "login-session" {
		t.Fatal("session cookie should be set from login")
	}
}

func TestLogin_InvalidCredentials_Returns401(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.Session, error) {
			return nil, model.ErrInvalidCredentials
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"walker1","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if sessionCookie(rec) != nil {
		t.Error("no session cookie should be set on failed login")
	}
}

func TestLogout_ClearsCookieEvenWithoutSession(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("clearing cookie should be set")
	}
	if cookie.MaxAge != -1 {
		t.Errorf("cookie MaxAge = %d, want -1", cookie.MaxAge)
	}
}

func TestLogout_DeletesSessionFromStore(t *testing.T) {
	var deletedID string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deletedID = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-to-delete"})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if deletedID != "sess-to-delete" {
		t.Errorf("deleted session = %q, want sess-to-delete", deletedID)
	}
}

func TestMe_NoCookie_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMe_ValidSession_ReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "user-1", Username: "walker1", Email: "w@example.edu"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["username"] != "walker1" {
		t.Errorf("username = %v", body["username"])
	}
}
