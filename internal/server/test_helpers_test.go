package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/auth"
	"github.com/MarcoPoloResearchLab/collabstore/internal/files"
	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const testCookieName = "wv-collab-token"

type testServer struct {
	handler  http.Handler
	resolver *resolvers.Resolver
	sessions *auth.SessionManager
	realtime *RealtimeDispatcher
	fs       afero.Fs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := afero.NewMemMapFs()
	persister, err := store.NewFilePersister(fs, "/data/database.json")
	if err != nil {
		t.Fatalf("failed to build persister: %v", err)
	}
	s, err := store.New(context.Background(), store.Config{Persister: persister})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	resolver, err := resolvers.New(resolvers.Config{Store: s})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	sessions, err := auth.NewSessionManager(auth.SessionConfig{
		SigningSecret: []byte("test-signing-secret"),
		CookieName:    testCookieName,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	storage, err := files.NewStorage(fs, "/data/files")
	if err != nil {
		t.Fatalf("failed to build file storage: %v", err)
	}
	realtime := NewRealtimeDispatcher()

	handler, err := NewHTTPHandler(Dependencies{
		Resolver:          resolver,
		Sessions:          sessions,
		Files:             storage,
		Realtime:          realtime,
		Logger:            zap.NewNop(),
		AllowedOrigins:    []string{"http://localhost:1234"},
		HeartbeatInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, resolver: resolver, sessions: sessions, realtime: realtime, fs: fs}
}

// sessionFor adds a STANDARD user directly and returns a cookie for it.
func (s *testServer) sessionFor(t *testing.T, id, email string) *http.Cookie {
	t.Helper()
	if _, err := s.resolver.AddUser(context.Background(), resolvers.NewUser{ID: id, Email: email}); err != nil {
		t.Fatalf("failed to add user %s: %v", id, err)
	}
	token, _, err := s.sessions.Issue(id, email)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", testCookieName)
	return nil
}

type errorPayload struct {
	Error string `json:"error"`
}
