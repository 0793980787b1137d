package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quorum/api/internal/realtime"
	"quorum/api/internal/resolution"
	"quorum/api/internal/store"
)

func newTestServer(fake *fakeStore) *httptest.Server {
	service := newTestService(fake, &fakeNotifier{})
	server := NewHTTPServer(service, realtime.NewHub(), nil, nil, "*")
	return httptest.NewServer(server.Handler())
}

func loginAs(t *testing.T, serverURL, name, position string) string {
	t.Helper()
	body := strings.NewReader(`{"name":"` + name + `","position":"` + position + `"}`)
	resp, err := http.Post(serverURL+"/api/session/login", "application/json", body)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return payload.Token
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp := doRequest(t, http.MethodGet, server.URL+"/api/resolutions", "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateMeetingForbiddenForEmployee(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Casey", Position: resolution.PositionEmployee}, nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := loginAs(t, server.URL, "Casey", "employee")
	resp := doRequest(t, http.MethodPost, server.URL+"/api/meetings", token, `{"number":3}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Code != "FORBIDDEN" {
		t.Fatalf("code = %q", payload.Code)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	fake := &fakeStore{
		ensureUserByNameFn: func(_ context.Context, name string, position resolution.Position) (store.User, error) {
			return store.User{ID: "usr_sec", DisplayName: name, Position: position}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Sam", Position: resolution.PositionSecretary}, nil
		},
		getResolutionFn: func(context.Context, string) (store.Resolution, error) {
			return baseResolution(resolution.StatusPendingSecretary), nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := loginAs(t, server.URL, "Sam", "secretary")
	resp := doRequest(t, http.MethodPost, server.URL+"/api/resolutions/pub-res-1/transition", token, `{"trigger":"secretary_approve"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "pending_ceo_approval" {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["id"] != "pub-res-1" {
		t.Fatalf("id = %v, want the public id", payload["id"])
	}
}

func TestUnknownTriggerRejected(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Sam", Position: resolution.PositionSecretary}, nil
		},
		getResolutionFn: func(context.Context, string) (store.Resolution, error) {
			return baseResolution(resolution.StatusPendingSecretary), nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := loginAs(t, server.URL, "Sam", "secretary")
	resp := doRequest(t, http.MethodPost, server.URL+"/api/resolutions/pub-res-1/transition", token, `{"trigger":"launch"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNotificationsUnreadCount(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Casey", Position: resolution.PositionEmployee}, nil
		},
		countUnreadNotificationsFn: func(context.Context, string) (int64, error) {
			return 2, nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := loginAs(t, server.URL, "Casey", "employee")
	resp := doRequest(t, http.MethodGet, server.URL+"/api/notifications/unread-count", token, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Count != 2 {
		t.Fatalf("count = %d, want 2", payload.Count)
	}
}

func TestNotificationsMarkRead(t *testing.T) {
	var marked []string
	fake := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Casey", Position: resolution.PositionEmployee}, nil
		},
		markNotificationReadFn: func(_ context.Context, _, notificationID string) (bool, error) {
			marked = append(marked, notificationID)
			return true, nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := loginAs(t, server.URL, "Casey", "employee")
	resp := doRequest(t, http.MethodPost, server.URL+"/api/notifications/ntf_1/read", token, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(marked) != 1 || marked[0] != "ntf_1" {
		t.Fatalf("marked = %v", marked)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
