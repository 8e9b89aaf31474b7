package session

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"hls-abr/internal/abr"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *testClock) {
	t.Helper()
	cfg := abr.DefaultConfig()
	cfg.DangerThreshold = 5
	svc, clk := newTestService(t, cfg, constFactor(1), nil)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	r := chi.NewRouter()
	NewHandler(svc, log).Routes(r)
	return r, clk
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	rec := do(r, http.MethodPost, "/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["session_id"] == "" {
		t.Fatalf("create body %q: %v", rec.Body.String(), err)
	}
	return body["session_id"]
}

func TestHandler_segment_cycle(t *testing.T) {
	r, clk := newTestRouter(t)
	id := createSession(t, r)
	base := "/sessions/" + id

	if rec := do(r, http.MethodPut, base+"/manifest", `{"bitrates":[100,250,500,1000,2000]}`); rec.Code != http.StatusNoContent {
		t.Fatalf("manifest: expected 204, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, base+"/telemetry", `{"buffer_level":10}`); rec.Code != http.StatusNoContent {
		t.Fatalf("telemetry: expected 204, got %d", rec.Code)
	}

	rec := do(r, http.MethodPost, base+"/segments/request", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("request: expected 200, got %d", rec.Code)
	}
	var rep abr.Representation
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil || rep.Index != 0 {
		t.Fatalf("first representation %s: %v", rec.Body.String(), err)
	}

	clk.Advance(time.Second)
	if rec := do(r, http.MethodPost, base+"/segments/response", `{"bits":1000}`); rec.Code != http.StatusNoContent {
		t.Fatalf("response: expected 204, got %d", rec.Code)
	}
	do(r, http.MethodPost, base+"/telemetry", `{"buffer_level":10}`)

	rec = do(r, http.MethodPost, base+"/segments/request", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil || rep.Index != 3 || rep.Bitrate != 1000 {
		t.Errorf("second representation %s: %v", rec.Body.String(), err)
	}

	rec = do(r, http.MethodGet, base, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if string(st.ID) != id || st.Index != 3 || st.Switches != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHandler_PutManifest_playlist(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createSession(t, r)

	req := httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/manifest", strings.NewReader(masterPlaylist))
	req.Header.Set("Content-Type", playlistContentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/sessions/"+id+"/manifest.m3u8", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != playlistContentType {
		t.Errorf("content type %q", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U") || !strings.Contains(body, "BANDWIDTH=4500000") {
		t.Errorf("unexpected playlist: %s", body)
	}
}

func TestHandler_bad_requests(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createSession(t, r)
	base := "/sessions/" + id

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"manifest_not_json", http.MethodPut, "/manifest", "bitrates please"},
		{"manifest_unknown_field", http.MethodPut, "/manifest", `{"rates":[1]}`},
		{"manifest_descending", http.MethodPut, "/manifest", `{"bitrates":[2,1]}`},
		{"manifest_bad_playlist", http.MethodPut, "/manifest", "#EXTM3U\n"},
		{"telemetry_empty", http.MethodPost, "/telemetry", `{}`},
		{"telemetry_negative", http.MethodPost, "/telemetry", `{"buffer_level":-1}`},
		{"telemetry_not_json", http.MethodPost, "/telemetry", "full"},
		{"response_missing_bits", http.MethodPost, "/segments/response", `{}`},
		{"response_negative_bits", http.MethodPost, "/segments/response", `{"bits":-5}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if rec := do(r, c.method, base+c.path, c.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_not_found(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/sessions/missing", "/sessions/missing/manifest.m3u8"} {
		if rec := do(r, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := do(r, http.MethodPost, "/sessions/missing/segments/request", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(r, http.MethodDelete, "/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_conflicts(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("request_before_manifest", func(t *testing.T) {
		id := createSession(t, r)
		if rec := do(r, http.MethodPost, "/sessions/"+id+"/segments/request", ""); rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("response_without_request", func(t *testing.T) {
		id := createSession(t, r)
		do(r, http.MethodPut, "/sessions/"+id+"/manifest", `{"bitrates":[1,2]}`)
		if rec := do(r, http.MethodPost, "/sessions/"+id+"/segments/response", `{"bits":5}`); rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("after_end", func(t *testing.T) {
		id := createSession(t, r)
		if rec := do(r, http.MethodDelete, "/sessions/"+id, ""); rec.Code != http.StatusOK {
			t.Fatalf("end: expected 200, got %d", rec.Code)
		}
		if rec := do(r, http.MethodPut, "/sessions/"+id+"/manifest", `{"bitrates":[1]}`); rec.Code != http.StatusConflict {
			t.Errorf("expected 409 after end, got %d", rec.Code)
		}
		rec := do(r, http.MethodGet, "/sessions/"+id, "")
		if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"ended":true`)) {
			t.Errorf("stats after end: %d %s", rec.Code, rec.Body.String())
		}
	})
}
