package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kahiteam/circbuf/internal/events"
)

func TestMetricsHandler(t *testing.T) {
	c := New()

	body := scrape(t, c)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("expected go_goroutines metric")
	}
}

func TestReadAndErrorCounters(t *testing.T) {
	c := New()
	c.IncRead("mic", "recent")
	c.IncRead("mic", "recent")
	c.IncRead("mic", "range")
	c.IncError("add", "invalid_argument")

	body := scrape(t, c)
	for _, want := range []string{
		`circbuf_reads_total{name="mic",op="recent"} 2`,
		`circbuf_reads_total{name="mic",op="range"} 1`,
		`circbuf_errors_total{kind="invalid_argument",op="add"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got:\n%s", want, body)
		}
	}
}

func TestDaemonUptime(t *testing.T) {
	c := New()
	c.SetDaemonUptime(3600.5)

	body := scrape(t, c)
	if !strings.Contains(body, "circbuf_daemon_uptime_seconds 3600.5") {
		t.Fatalf("expected uptime metric, got:\n%s", body)
	}
}

func TestConfigReloadCounters(t *testing.T) {
	c := New()
	c.IncConfigReload()
	c.IncConfigReload()
	c.IncConfigReloadError()

	body := scrape(t, c)
	if !strings.Contains(body, "circbuf_config_reload_total 2") {
		t.Fatalf("expected reload_total=2, got:\n%s", body)
	}
	if !strings.Contains(body, "circbuf_config_reload_errors_total 1") {
		t.Fatalf("expected reload_errors=1, got:\n%s", body)
	}
}

func TestBuildInfo(t *testing.T) {
	c := New()
	c.SetBuildInfo("1.0.0", "go1.26.0")

	body := scrape(t, c)
	if !strings.Contains(body, `circbuf_info{go_version="go1.26.0",version="1.0.0"} 1`) {
		t.Fatalf("expected build info metric, got:\n%s", body)
	}
}

func TestAttachTracksBufferEvents(t *testing.T) {
	c := New()
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	detach := c.Attach(bus)
	defer detach()

	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "mic", "capacity": "8"}})
	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "imu", "capacity": "4"}})
	bus.Publish(events.Event{Type: events.BufferWritten, Data: map[string]string{
		"name": "mic", "samples": "6", "length": "6", "capacity": "8",
	}})

	body := scrape(t, c)
	for _, want := range []string{
		"circbuf_buffers 2",
		`circbuf_buffer_capacity_samples{name="mic"} 8`,
		`circbuf_buffer_fill_ratio{name="mic"} 0.75`,
		`circbuf_samples_written_total{name="mic"} 6`,
		"circbuf_buffer_fill_ratio{name=\"imu\"} 0\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got:\n%s", want, body)
		}
	}

	bus.Publish(events.Event{Type: events.BufferReset, Data: map[string]string{"name": "mic"}})
	if body := scrape(t, c); !strings.Contains(body, "circbuf_buffer_fill_ratio{name=\"mic\"} 0\n") {
		t.Fatalf("reset should clear fill ratio, got:\n%s", body)
	}

	bus.Publish(events.Event{Type: events.BufferDestroyed, Data: map[string]string{"name": "mic"}})
	body = scrape(t, c)
	if strings.Contains(body, `name="mic"`) {
		t.Fatalf("expected mic metrics to be removed, got:\n%s", body)
	}
	if !strings.Contains(body, "circbuf_buffers 1") {
		t.Fatalf("expected 1 buffer, got:\n%s", body)
	}
}

func TestAttachReplaceResetsSeries(t *testing.T) {
	c := New()
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Attach(bus)

	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "mic", "capacity": "8"}})
	bus.Publish(events.Event{Type: events.BufferWritten, Data: map[string]string{
		"name": "mic", "samples": "8", "length": "8", "capacity": "8",
	}})
	bus.Publish(events.Event{Type: events.BufferReplaced, Data: map[string]string{"name": "mic", "capacity": "32"}})

	body := scrape(t, c)
	if !strings.Contains(body, `circbuf_buffer_capacity_samples{name="mic"} 32`) {
		t.Fatalf("capacity not updated:\n%s", body)
	}
	if strings.Contains(body, `circbuf_samples_written_total{name="mic"}`) {
		t.Fatalf("written counter should restart for a replaced buffer:\n%s", body)
	}
	if !strings.Contains(body, "circbuf_buffers 1") {
		t.Fatalf("replace must not change buffer count:\n%s", body)
	}
}

func TestDetachStopsUpdates(t *testing.T) {
	c := New()
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	detach := c.Attach(bus)
	detach()

	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "mic", "capacity": "8"}})
	if body := scrape(t, c); !strings.Contains(body, "circbuf_buffers 0") {
		t.Fatalf("detached collector should not count buffers:\n%s", body)
	}
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics scrape failed: %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	return string(body)
}

func TestAttachIgnoresDestroyedBuffers(t *testing.T) {
	c := New()
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Attach(bus)

	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "mic", "capacity": "8"}})
	bus.Publish(events.Event{Type: events.BufferDestroyed, Data: map[string]string{"name": "mic"}})

	// Late reports from operations that raced the destroy.
	bus.Publish(events.Event{Type: events.BufferWritten, Data: map[string]string{
		"name": "mic", "samples": "4", "length": "4", "capacity": "8",
	}})
	bus.Publish(events.Event{Type: events.BufferReset, Data: map[string]string{"name": "mic"}})
	c.IncRead("mic", "recent")

	if body := scrape(t, c); strings.Contains(body, `name="mic"`) {
		t.Fatalf("destroyed buffer series came back:\n%s", body)
	}

	bus.Publish(events.Event{Type: events.BufferCreated, Data: map[string]string{"name": "mic", "capacity": "8"}})
	c.IncRead("mic", "recent")
	if body := scrape(t, c); !strings.Contains(body, `circbuf_reads_total{name="mic",op="recent"} 1`) {
		t.Fatalf("recreated buffer should be counted:\n%s", body)
	}
}
