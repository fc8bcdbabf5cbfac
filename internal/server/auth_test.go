package server

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/samer-khoury/mizan/internal/identity"
)

var testSecret = []byte("test-secret")

func TestSignJWTRoundTrip(t *testing.T) {
	signed, err := SignJWT("user-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	protected := withAuth(testSecret)(func(c echo.Context) error {
		return c.String(http.StatusOK, userID(c))
	})

	// bearer header
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	if err := protected(e.NewContext(req, rec)); err != nil {
		t.Fatalf("bearer auth: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("subject = %q", rec.Body.String())
	}

	// cookie
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: signed})
	rec = httptest.NewRecorder()
	if err := protected(e.NewContext(req, rec)); err != nil {
		t.Fatalf("cookie auth: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("subject = %q", rec.Body.String())
	}
}

func TestWithAuthRejections(t *testing.T) {
	e := echo.New()
	protected := withAuth(testSecret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	cases := map[string]func(*http.Request){
		"missing token": func(r *http.Request) {},
		"garbage token": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-jwt")
		},
		"wrong secret": func(r *http.Request) {
			signed, _ := SignJWT("user-1", []byte("other-secret"), time.Hour)
			r.Header.Set("Authorization", "Bearer "+signed)
		},
		"expired": func(r *http.Request) {
			signed, _ := SignJWT("user-1", testSecret, -time.Hour)
			r.Header.Set("Authorization", "Bearer "+signed)
		},
	}
	for name, mutate := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		mutate(req)
		err := protected(e.NewContext(req, httptest.NewRecorder()))
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: err = %v, want 401", name, err)
		}
	}
}

func newAuthEnv(t *testing.T) (*echo.Echo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := echo.New()
	h := &AuthHandler{Users: identity.NewWithDB(db), Secret: testSecret, TTL: time.Hour}
	h.Register(e.Group("/api/auth"))
	return e, mock
}

func TestGuestIssuesToken(t *testing.T) {
	e, mock := newAuthEnv(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (guest) VALUES (TRUE) RETURNING id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("guest-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/guest", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"token"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	var cookie string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" && c.Value != "" {
			cookie = c.Value
		}
	}
	if cookie == "" {
		t.Fatal("auth cookie not set")
	}
	if h := rec.Header().Get("Authorization"); !strings.HasPrefix(h, "Bearer ") {
		t.Fatalf("authorization header = %q", h)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	e, _ := newAuthEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"a@b.c","password":"short"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignupConflictOnTakenEmail(t *testing.T) {
	e, mock := newAuthEnv(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`)).
		WillReturnError(uniqueViolation{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"a@b.c","password":"longenough"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

type uniqueViolation struct{}

func (uniqueViolation) Error() string    { return "duplicate key value" }
func (uniqueViolation) SQLState() string { return "23505" }

func TestMeReturnsAccount(t *testing.T) {
	e, mock := newAuthEnv(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, display_name, guest, created_at FROM users WHERE id=$1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name", "guest", "created_at"}).
			AddRow("u1", "s@example.com", "Samer", false, time.Now()))

	token, err := SignJWT("u1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"name":"Samer"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestMeRequiresAuth(t *testing.T) {
	e, _ := newAuthEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	e, _ := newAuthEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("auth cookie not expired")
	}
}
