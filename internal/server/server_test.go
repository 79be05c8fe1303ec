package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/local/smartgarden/internal/auth"
	"github.com/local/smartgarden/internal/responder"
	"github.com/local/smartgarden/internal/statuscheck"
	"github.com/local/smartgarden/internal/store"
	"github.com/local/smartgarden/internal/weather"
)

const testToken = "5b0f3c2e-8a52-4c6e-9d0b-6a1d2f3e4c5d"

type fakeAuth struct {
	users   map[string]string
	revoked map[string]bool
}

func (f *fakeAuth) Register(_ context.Context, u, p string) (auth.Session, error) {
	if err := auth.Validate(u, p); err != nil {
		return auth.Session{}, err
	}
	if _, ok := f.users[u]; ok {
		return auth.Session{}, auth.ErrUserExists
	}
	f.users[u] = p
	return auth.Session{AccessToken: testToken, TokenType: "Bearer", Username: u, ExpiresAt: time.Unix(0, 0)}, nil
}

func (f *fakeAuth) Login(_ context.Context, u, p string) (auth.Session, error) {
	if f.users[u] != p || p == "" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: testToken, TokenType: "Bearer", Username: u}, nil
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (string, error) {
	if token != testToken || f.revoked[token] {
		return "", auth.ErrInvalidToken
	}
	return "gardener", nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.revoked[token] = true
	return nil
}

func (f *fakeAuth) Exists(_ context.Context, u string) (bool, error) {
	_, ok := f.users[u]
	return ok, nil
}

type fakeResponder struct {
	mu      sync.Mutex
	queries []responder.Query
}

func (f *fakeResponder) Respond(_ context.Context, q responder.Query) responder.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if q.ImageRef != "" {
		return responder.Reply{Text: responder.BotPrefix + "Lá khỏe", Source: responder.SourceAI, Attempts: 1}
	}
	return responder.Reply{Text: responder.GetFallbackResponse(q.Text), Source: responder.SourceFallback, Attempts: 3}
}

type fakePlants struct {
	mu     sync.Mutex
	byUser map[string][]store.Plant
	next   int
}

func (f *fakePlants) LoadPlants(_ context.Context, u string) ([]store.Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Plant{}, f.byUser[u]...), nil
}

func (f *fakePlants) SavePlants(_ context.Context, u string, plants []store.Plant) ([]store.Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Plant, len(plants))
	for i, p := range plants {
		if p.ID == "" {
			f.next++
			p.ID = "p" + string(rune('0'+f.next))
		}
		out[i] = p
	}
	f.byUser[u] = out
	return out, nil
}

func (f *fakePlants) AddPlant(_ context.Context, u string, p store.Plant) (store.Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	p.ID = "p" + string(rune('0'+f.next))
	f.byUser[u] = append(f.byUser[u], p)
	return p, nil
}

func (f *fakePlants) UpdatePlant(_ context.Context, u string, p store.Plant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.byUser[u] {
		if f.byUser[u][i].ID == p.ID {
			f.byUser[u][i] = p
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakePlants) DeletePlant(_ context.Context, u, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.byUser[u] {
		if p.ID == id {
			f.byUser[u] = append(f.byUser[u][:i], f.byUser[u][i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakePlants) ClearPlants(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byUser, u)
	return nil
}

type fakeUploader struct {
	keys  []string
	types []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	f.types = append(f.types, contentType)
	return "s3://photos/" + key, nil
}

type fakeWeather struct {
	locations []string
	err       error
}

func (f *fakeWeather) Current(_ context.Context, location string) (json.RawMessage, error) {
	f.locations = append(f.locations, location)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"location":{"name":"Hanoi"},"current":{"temperature":29}}`), nil
}

type fakeStatus struct{ sum statuscheck.Summary }

func (f fakeStatus) Summary(context.Context) statuscheck.Summary { return f.sum }

type harness struct {
	srv       *httptest.Server
	responder *fakeResponder
	plants    *fakePlants
	uploader  *fakeUploader
	weather   *fakeWeather
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		responder: &fakeResponder{},
		plants:    &fakePlants{byUser: map[string][]store.Plant{}},
		uploader:  &fakeUploader{},
		weather:   &fakeWeather{},
	}
	s := New(Dependencies{
		Responder:    h.responder,
		Plants:       h.plants,
		Auth:         &fakeAuth{users: map[string]string{"gardener": "secret1"}, revoked: map[string]bool{}},
		Uploader:     h.uploader,
		Weather:      h.weather,
		Status:       fakeStatus{sum: statuscheck.Summary{Redis: statuscheck.Status{OK: true}, Gemini: statuscheck.Status{OK: true}}},
		PhotoBucket:  "photos",
		UploadPrefix: "chat-photos",
		MaxBodyBytes: 1 << 20,
	})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, authed bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)
	resp, err := h.srv.Client().Get(h.srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %v, %v", resp, err)
	}
	resp.Body.Close()

	resp2, body := h.do(t, http.MethodGet, "/status", "", false)
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("status code = %d", resp2.StatusCode)
	}
	if _, ok := body["gemini"]; !ok {
		t.Errorf("status body = %v", body)
	}
}

func TestAuthEndpoints(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"register", "/api/v1/auth/register", `{"username":"newbie","password":"secret1"}`, http.StatusCreated},
		{"register duplicate", "/api/v1/auth/register", `{"username":"gardener","password":"secret1"}`, http.StatusConflict},
		{"register short password", "/api/v1/auth/register", `{"username":"other","password":"1"}`, http.StatusBadRequest},
		{"register bad json", "/api/v1/auth/register", `{"username":`, http.StatusBadRequest},
		{"login", "/api/v1/auth/login", `{"username":"gardener","password":"secret1"}`, http.StatusOK},
		{"login wrong", "/api/v1/auth/login", `{"username":"gardener","password":"nope00"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, tt.path, tt.body, false)
			if resp.StatusCode != tt.want {
				t.Fatalf("code = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if tt.want < 300 {
				if body["accessToken"] != testToken || body["tokenType"] != "Bearer" {
					t.Errorf("session = %v", body)
				}
			} else if body["message"] == "" {
				t.Errorf("error body lacks message: %v", body)
			}
		})
	}
}

func TestChatRequiresAuth(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/v1/chat", `{"text":"chào"}`, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("code = %d", resp.StatusCode)
	}
	if len(h.responder.queries) != 0 {
		t.Error("responder called without auth")
	}
}

func TestChat(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantSource string
		wantRef    string
	}{
		{"text", `{"text":"chào"}`, http.StatusOK, "fallback", ""},
		{"empty", `{"text":"   "}`, http.StatusBadRequest, "", ""},
		{"s3 ref", `{"text":"lá vàng","imageUri":"s3://photos/chat-photos/gardener/a.jpg"}`, http.StatusOK, "ai", "s3://photos/chat-photos/gardener/a.jpg"},
		{"local path rejected", `{"text":"x","imageUri":"/etc/passwd"}`, http.StatusBadRequest, "", ""},
		{"bucketless ref rejected", `{"text":"x","imageUri":"s3://photos"}`, http.StatusBadRequest, "", ""},
		{"other user's photo", `{"text":"x","imageUri":"s3://photos/chat-photos/someone-else/secret.jpg"}`, http.StatusForbidden, "", ""},
		{"outside upload folder", `{"text":"x","imageUri":"s3://photos/backups/db.jpg"}`, http.StatusForbidden, "", ""},
		{"dot-dot escape", `{"text":"x","imageUri":"s3://photos/chat-photos/gardener/../someone-else/a.jpg"}`, http.StatusForbidden, "", ""},
		{"user prefix is not a folder", `{"text":"x","imageUri":"s3://photos/chat-photos/gardener2/a.jpg"}`, http.StatusForbidden, "", ""},
		{"other bucket", `{"text":"x","imageUri":"s3://other/chat-photos/gardener/a.jpg"}`, http.StatusForbidden, "", ""},
		{"inline named", `{"text":"x","imageBase64":"` + png + `","imageName":"Leaf.PNG"}`, http.StatusOK, "ai", "s3://photos/chat-photos/gardener/"},
		{"inline sniffed", `{"imageBase64":"data:image/png;base64,` + png + `"}`, http.StatusOK, "ai", "s3://photos/chat-photos/gardener/"},
		{"inline non-image name", `{"imageBase64":"` + png + `","imageName":"leaf.exe"}`, http.StatusOK, "ai", "s3://photos/chat-photos/gardener/"},
		{"inline garbage", `{"imageBase64":"%%%"}`, http.StatusBadRequest, "", ""},
		{"unknown field", `{"text":"x","foo":1}`, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp, body := h.do(t, http.MethodPost, "/api/v1/chat", tt.body, true)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("code = %d, want %d (%v)", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusOK {
				if len(h.responder.queries) != 0 {
					t.Errorf("responder called for rejected request: %+v", h.responder.queries)
				}
				return
			}
			if body["source"] != tt.wantSource {
				t.Errorf("source = %v, want %s", body["source"], tt.wantSource)
			}
			reply, _ := body["reply"].(string)
			if !strings.Contains(reply, responder.BotMarker) {
				t.Errorf("reply = %q", reply)
			}
			q := h.responder.queries[0]
			if !strings.HasPrefix(q.ImageRef, tt.wantRef) || (tt.wantRef == "") != (q.ImageRef == "") {
				t.Errorf("ImageRef = %q, want prefix %q", q.ImageRef, tt.wantRef)
			}
			if strings.Contains(tt.name, "inline") {
				if !strings.HasSuffix(q.ImageRef, ".png") || h.uploader.types[0] != "image/png" {
					t.Errorf("uploaded %v as %v", h.uploader.keys, h.uploader.types)
				}
			}
		})
	}
}

func TestChatUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = errors.New("s3 down")
	resp, _ := h.do(t, http.MethodPost, "/api/v1/chat", `{"imageBase64":"aGVsbG8="}`, true)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("code = %d", resp.StatusCode)
	}
}

func TestPlantsCRUD(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/v1/plants", `{"name":"Cây Mía","icon":"grass","type":"Cây thân gỗ"}`, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add code = %d (%v)", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("add returned no id: %v", body)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/v1/plants", `{"icon":"grass"}`, true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("nameless add code = %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPut, "/api/v1/plants/"+id, `{"name":"Cây Mía","waterStatus":"Đã tưới"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("update code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPut, "/api/v1/plants/missing", `{"name":"x"}`, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("update missing code = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/v1/plants", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	listResp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var plants []store.Plant
	_ = json.NewDecoder(listResp.Body).Decode(&plants)
	listResp.Body.Close()
	if len(plants) != 1 || plants[0].WaterStatus != "Đã tưới" {
		t.Errorf("plants = %+v", plants)
	}

	if resp, _ := h.do(t, http.MethodDelete, "/api/v1/plants/"+id, "", true); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodDelete, "/api/v1/plants/"+id, "", true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodDelete, "/api/v1/plants", "", true); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear code = %d", resp.StatusCode)
	}
}

func TestImageExtension(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"Leaf.JPEG", png, ".jpeg"},
		{"leaf.webp", png, ".webp"},
		{"leaf.exe", png, ".png"},
		{"", png, ".png"},
		{"notes.txt", []byte("plain text"), ".jpg"},
		{"archive", []byte("BM\x00\x00"), ".jpg"},
	}
	for _, tt := range tests {
		if got := imageExtension(tt.name, tt.data); got != tt.want {
			t.Errorf("imageExtension(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/logout", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous logout code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/logout", "", true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/plants", "", true); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("token still accepted after logout: %d", resp.StatusCode)
	}
}

func TestFindByUsername(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantExists bool
	}{
		{"known", `{"username":"gardener"}`, http.StatusOK, true},
		{"known mixed case", `{"username":" Gardener "}`, http.StatusOK, true},
		{"unknown", `{"username":"nobody"}`, http.StatusOK, false},
		{"blank", `{"username":""}`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, "/api/v1/auth/findByUsername", tt.body, false)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("code = %d, want %d (%v)", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantCode == http.StatusOK && body["exists"] != tt.wantExists {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestSavePlantsBulk(t *testing.T) {
	h := newHarness(t)
	h.plants.byUser["gardener"] = []store.Plant{{ID: "old", Name: "Cây cũ"}}

	req, _ := http.NewRequest(http.MethodPut, h.srv.URL+"/api/v1/plants",
		strings.NewReader(`[{"id":"keep","name":"Cây Mía"},{"name":"Cây Lúa","icon":"grass"}]`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var saved []store.Plant
	_ = json.NewDecoder(resp.Body).Decode(&saved)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}
	if len(saved) != 2 || saved[0].ID != "keep" || saved[1].ID == "" {
		t.Errorf("saved = %+v", saved)
	}
	if got := h.plants.byUser["gardener"]; len(got) != 2 || got[0].ID != "keep" {
		t.Errorf("stored = %+v", got)
	}

	if resp, _ := h.do(t, http.MethodPut, "/api/v1/plants", `[{"icon":"grass"}]`, true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("nameless bulk save code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPut, "/api/v1/plants", `{"name":"not a list"}`, true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("object body code = %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPut, "/api/v1/plants", `[]`, false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous bulk save code = %d", resp.StatusCode)
	}
}

func TestWeather(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/api/weather?location=Da%20Nang", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	current, _ := body["current"].(map[string]any)
	if current["temperature"] != float64(29) {
		t.Errorf("body = %v", body)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/weather", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("no-location code = %d", resp.StatusCode)
	}
	if want := []string{"Da Nang", ""}; strings.Join(h.weather.locations, "|") != strings.Join(want, "|") {
		t.Errorf("locations = %q, want %q", h.weather.locations, want)
	}

	h.weather.err = errors.New("upstream down")
	if resp, body := h.do(t, http.MethodGet, "/api/weather", "", false); resp.StatusCode != http.StatusBadGateway || body["message"] == "" {
		t.Errorf("upstream failure = %d %v", resp.StatusCode, body)
	}
	h.weather.err = fmt.Errorf("lookup: %w", weather.ErrNotConfigured)
	if resp, _ := h.do(t, http.MethodGet, "/api/weather", "", false); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unconfigured code = %d", resp.StatusCode)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"abc":         "",
		"":            "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
