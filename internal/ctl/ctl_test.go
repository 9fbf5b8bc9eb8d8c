package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mockAPIServer returns a test server that mimics the circbuf API.
func mockAPIServer() *httptest.Server {
	mux := http.NewServeMux()

	created := time.Now().Add(-90 * time.Minute)
	buffers := []BufferInfo{
		{Name: "mic", Channels: 2, Capacity: 4, Length: 4, Full: true, SamplesWritten: 9, CreatedAt: created},
		{Name: "imu", Channels: 6, Capacity: 100, Length: 10, Strict: true, SamplesWritten: 10, CreatedAt: created},
	}
	find := func(name string) (BufferInfo, bool) {
		for _, b := range buffers {
			if b.Name == name {
				return b, true
			}
		}
		return BufferInfo{}, false
	}
	notFound := func(w http.ResponseWriter, name string) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("info: %s: no such buffer", name),
			"code":  "NOT_FOUND",
		})
	}

	mux.HandleFunc("GET /api/v1/buffers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, buffers)
	})

	mux.HandleFunc("POST /api/v1/buffers", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Channels int    `json:"channels"`
			Capacity int    `json:"capacity"`
			Strict   bool   `json:"strict"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Channels == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "create: channels must be positive, got 0: invalid argument",
				"code":  "INVALID_ARGUMENT",
			})
			return
		}
		writeJSON(w, http.StatusCreated, BufferInfo{
			Name: req.Name, Channels: req.Channels, Capacity: req.Capacity, Strict: req.Strict,
		})
	})

	mux.HandleFunc("GET /api/v1/buffers/{name}", func(w http.ResponseWriter, r *http.Request) {
		b, ok := find(r.PathValue("name"))
		if !ok {
			notFound(w, r.PathValue("name"))
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("DELETE /api/v1/buffers/{name}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := find(r.PathValue("name")); !ok {
			notFound(w, r.PathValue("name"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
	})

	mux.HandleFunc("POST /api/v1/buffers/{name}/samples", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data []float32 `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"status": "written", "values": len(body.Data)})
	})

	mux.HandleFunc("GET /api/v1/buffers/{name}/samples", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("count") != "2" || q.Get("channel") != "1" || q.Get("start") != "3" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected query " + r.URL.RawQuery})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []float32{-1.5, 2}})
	})

	mux.HandleFunc("GET /api/v1/buffers/{name}/recent", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Matrix{Channels: 2, Samples: 2, Data: []float32{1, 2, -1, -2}})
	})

	mux.HandleFunc("POST /api/v1/buffers/{name}/reset", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})

	mux.HandleFunc("POST /api/v1/command", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string `json:"command"`
			Args    []any  `json:"args"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Command != "get" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("%q: invalid argument: unknown command", req.Command),
				"code":  "UNKNOWN_COMMAND",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": []float32{7, 8}})
	})

	mux.HandleFunc("POST /api/v1/config/reload", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "reloaded",
			"added":   []string{"new"},
			"changed": []string{},
			"removed": []string{"old"},
		})
	})

	mux.HandleFunc("POST /api/v1/shutdown", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	})

	mux.HandleFunc("GET /api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "1.0.0", "commit": "abc123"})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("buffers") == "mic,missing" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready", "pending": []string{"missing"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	return httptest.NewServer(mux)
}

func testClient(ts *httptest.Server) *Client {
	addr := strings.TrimPrefix(ts.URL, "http://")
	return NewTCPClient(addr, "", "")
}

func TestClientCreate(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	info, err := c.Create("mic", 2, 48000, true)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "mic" || info.Channels != 2 || info.Capacity != 48000 || !info.Strict {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestClientCreateInvalid(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	_, err := c.Create("mic", 0, 4, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "channels must be positive") {
		t.Fatalf("expected server message, got: %s", err)
	}
}

func TestClientBufferOps(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	if err := c.Add("mic", []float32{1, -1, 2, -2}); err != nil {
		t.Fatal(err)
	}
	if err := c.Reset("mic"); err != nil {
		t.Fatal(err)
	}
	if err := c.Destroy("mic"); err != nil {
		t.Fatal(err)
	}

	data, err := c.Get("mic", 2, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(data, []float32{-1.5, 2}) {
		t.Fatalf("get = %v", data)
	}

	m, err := c.GetMostRecent("mic", 2)
	if err != nil {
		t.Fatal(err)
	}
	if m.Channels != 2 || m.Samples != 2 || !slices.Equal(m.Data, []float32{1, 2, -1, -2}) {
		t.Fatalf("recent = %+v", m)
	}
}

func TestClientInfo(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	info, err := c.Info("imu")
	if err != nil {
		t.Fatal(err)
	}
	if info.Channels != 6 || !info.Strict {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestClientBufferNotFound(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	_, err := c.Info("nope")
	if err == nil {
		t.Fatal("expected error for missing buffer")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if err := c.Destroy("nope"); err == nil {
		t.Fatal("expected error destroying missing buffer")
	}
}

func TestClientExec(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	raw, err := c.Exec("get", []any{"mic", 2, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	var got []float32
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []float32{7, 8}) {
		t.Fatalf("exec result = %v", got)
	}

	_, err = c.Exec("explode", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "UNKNOWN_COMMAND" {
		t.Fatalf("expected UNKNOWN_COMMAND, got %v", err)
	}
}

func TestClientList(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	var buf bytes.Buffer
	if err := c.List(nil, false, &buf); err != nil {
		t.Fatal(err)
	}

	output := buf.String()
	for _, want := range []string{"NAME", "CHANNELS", "mic", "imu", "4/4", "10/100 strict", "1h 30m"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
	// Sorted by name.
	if strings.Index(output, "imu") > strings.Index(output, "mic") {
		t.Fatalf("expected imu before mic:\n%s", output)
	}
}

func TestClientListJSON(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	var buf bytes.Buffer
	if err := c.List(nil, true, &buf); err != nil {
		t.Fatal(err)
	}

	var list []BufferInfo
	if err := json.Unmarshal(buf.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 buffers, got %d", len(list))
	}
}

func TestClientListFilter(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	var buf bytes.Buffer
	if err := c.List([]string{"imu"}, false, &buf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "mic") {
		t.Fatalf("filtered output should not contain mic:\n%s", buf.String())
	}
}

func TestBufferTableFormat(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	list := []BufferInfo{
		{Name: "a", Channels: 1, Capacity: 8, Length: 8, Full: true, CreatedAt: now.Add(-26 * time.Hour)},
		{Name: "b", Channels: 1, Capacity: 8, Length: 3},
	}

	var buf bytes.Buffer
	if err := formatBufferTable(list, &buf, true, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "\033[32m8/8\033[0m") {
		t.Fatalf("expected green fill for full buffer:\n%q", out)
	}
	if !strings.Contains(out, "\033[33m3/8\033[0m") {
		t.Fatalf("expected yellow fill for partial buffer:\n%q", out)
	}
	if !strings.Contains(out, "1d 2h 0m") {
		t.Fatalf("expected age column:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[2], "-") {
		t.Fatalf("expected '-' age for zero created time:\n%s", out)
	}
}

func TestEmptyBufferTable(t *testing.T) {
	var buf bytes.Buffer
	if err := formatBufferTable(nil, &buf, false, time.Now()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "NAME") {
		t.Fatalf("expected header only, got:\n%s", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{25*time.Hour + 1*time.Minute, "1d 1h 1m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestIsTerminalBuffer(t *testing.T) {
	var buf bytes.Buffer
	if isTerminal(&buf) {
		t.Fatal("bytes.Buffer should not be detected as terminal")
	}
}

func TestParseSamples(t *testing.T) {
	tests := []struct {
		in   string
		want []float32
	}{
		{"1 2 3", []float32{1, 2, 3}},
		{"1,2,3\n", []float32{1, 2, 3}},
		{"  -0.5,\n\t1e3 , 4 ", []float32{-0.5, 1000, 4}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := ParseSamples(strings.NewReader(tt.in))
		if err != nil {
			t.Fatalf("ParseSamples(%q): %v", tt.in, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("ParseSamples(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseSamples(strings.NewReader("1 two 3")); err == nil {
		t.Fatal("expected error for non-numeric sample")
	}
}

func TestWriteSamplesAndMatrix(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSamples(&buf, []float32{1, -0.5}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1\n-0.5\n" {
		t.Fatalf("WriteSamples = %q", buf.String())
	}

	buf.Reset()
	m := Matrix{Channels: 2, Samples: 3, Data: []float32{1, 2, 3, -1, -2, -3}}
	if err := WriteMatrix(&buf, m); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1\t-1\n2\t-2\n3\t-3\n" {
		t.Fatalf("WriteMatrix = %q", buf.String())
	}
}

func TestClientShutdown(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestClientReload(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	r, err := c.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.Added, []string{"new"}) || !slices.Equal(r.Removed, []string{"old"}) || len(r.Changed) != 0 {
		t.Fatalf("unexpected reload result: %+v", r)
	}
}

func TestClientVersion(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	v, err := c.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v["version"] != "1.0.0" {
		t.Fatalf("expected 1.0.0, got %v", v["version"])
	}
}

func TestClientHealth(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	status, err := c.Health()
	if err != nil {
		t.Fatal(err)
	}
	if status != "ok" {
		t.Fatalf("expected ok, got %s", status)
	}
}

func TestClientReady(t *testing.T) {
	ts := mockAPIServer()
	defer ts.Close()
	c := testClient(ts)

	status, err := c.Ready(nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != "ready" {
		t.Fatalf("expected ready, got %s", status)
	}

	status, err = c.Ready([]string{"mic", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if status != "not_ready" {
		t.Fatalf("expected not_ready, got %s", status)
	}
}

func TestClientConnectionFailure(t *testing.T) {
	c := NewTCPClient("127.0.0.1:1", "", "")
	if err := c.Shutdown(); err == nil || !strings.Contains(err.Error(), "connection failed") {
		t.Fatalf("expected connection error, got %v", err)
	}
	if _, err := c.Health(); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClientNonJSONError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/buffers/{name}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, err := testClient(ts).Info("mic")
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected status 502 error, got %v", err)
	}
}

func TestClientEscapesNames(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/buffers/{name}", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.PathValue("name")
		writeJSON(w, http.StatusOK, BufferInfo{Name: gotPath})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	if _, err := testClient(ts).Info("left ear/raw"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "left ear/raw" {
		t.Fatalf("server saw %q", gotPath)
	}
}

func TestNewUnixClient(t *testing.T) {
	c := NewUnixClient("/tmp/circbuf-test.sock")
	if c.baseURL != "http://unix" {
		t.Fatalf("expected baseURL 'http://unix', got %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClientBasicAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/shutdown", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	addr := strings.TrimPrefix(ts.URL, "http://")
	if err := NewTCPClient(addr, "admin", "secret").Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := NewTCPClient(addr, "admin", "wrong").Shutdown(); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestClientEvents(t *testing.T) {
	var gotTypes string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events/stream", func(w http.ResponseWriter, r *http.Request) {
		gotTypes = r.URL.Query().Get("types")
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: BUFFER_CREATED\ndata: {\"name\":\"mic\"}\n\n")
		fmt.Fprint(w, "event: BUFFER_RESET\ndata: {\"name\":\"mic\"}\n\n")
		flusher.Flush()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var buf bytes.Buffer
	if err := testClient(ts).Events(ctx, []string{"BUFFER_CREATED", "BUFFER_RESET"}, &buf); err != nil {
		t.Fatal(err)
	}
	if gotTypes != "BUFFER_CREATED,BUFFER_RESET" {
		t.Fatalf("server saw types %q", gotTypes)
	}
	want := "BUFFER_CREATED {\"name\":\"mic\"}\nBUFFER_RESET {\"name\":\"mic\"}\n"
	if buf.String() != want {
		t.Fatalf("events output = %q, want %q", buf.String(), want)
	}
}

func TestClientEventsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events/stream", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown event type \"NOPE\": invalid argument",
			"code":  "INVALID_ARGUMENT",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	err := testClient(ts).Events(context.Background(), []string{"NOPE"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown event type") {
		t.Fatalf("expected server error, got %v", err)
	}
}
