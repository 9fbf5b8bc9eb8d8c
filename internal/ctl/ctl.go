// Package ctl implements the CLI control client for communicating
// with a running circbuf daemon over its Unix socket or TCP API.
package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
)

// Client communicates with a circbuf daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewUnixClient creates a client that connects via Unix socket.
func NewUnixClient(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		baseURL: "http://unix",
	}
}

// NewTCPClient creates a client that connects via TCP.
func NewTCPClient(addr, username, password string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    "http://" + addr,
		username:   username,
		password:   password,
	}
}

// requestTimeout bounds every call except the event stream.
const requestTimeout = 30 * time.Second

// APIError is an error response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// call sends a request with an optional JSON body and decodes a JSON reply
// into out. Non-2xx replies become *APIError.
func (c *Client) call(method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("server error (status %d)", resp.StatusCode)}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

func bufferPath(name string, suffix ...string) string {
	p := "/api/v1/buffers/" + url.PathEscape(name)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// BufferInfo is the JSON structure returned by the API.
type BufferInfo struct {
	Name           string    `json:"name"`
	Channels       int       `json:"channels"`
	Capacity       int       `json:"capacity"`
	Length         int       `json:"length"`
	Full           bool      `json:"full"`
	Strict         bool      `json:"strict"`
	Head           int       `json:"head"`
	Tail           int       `json:"tail"`
	SamplesWritten uint64    `json:"samples_written"`
	CreatedAt      time.Time `json:"created_at"`
}

// Matrix is a channels x samples block in row-major order.
type Matrix struct {
	Channels int       `json:"channels"`
	Samples  int       `json:"samples"`
	Data     []float32 `json:"data"`
}

// --- Buffer operations ---

// Create creates (or replaces) a buffer.
func (c *Client) Create(name string, channels, capacity int, strict bool) (BufferInfo, error) {
	var info BufferInfo
	err := c.call("POST", "/api/v1/buffers", map[string]any{
		"name":     name,
		"channels": channels,
		"capacity": capacity,
		"strict":   strict,
	}, &info)
	return info, err
}

// Destroy removes a buffer.
func (c *Client) Destroy(name string) error {
	return c.call("DELETE", bufferPath(name), nil, nil)
}

// Add appends channel-interleaved samples.
func (c *Client) Add(name string, data []float32) error {
	return c.call("POST", bufferPath(name, "samples"), map[string]any{"data": data}, nil)
}

// Get reads count samples of one channel starting at start.
func (c *Client) Get(name string, count, channel, start int) ([]float32, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	q.Set("channel", strconv.Itoa(channel))
	q.Set("start", strconv.Itoa(start))
	var body struct {
		Data []float32 `json:"data"`
	}
	if err := c.call("GET", bufferPath(name, "samples")+"?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetMostRecent reads the newest count samples of every channel.
func (c *Client) GetMostRecent(name string, count int) (Matrix, error) {
	var m Matrix
	err := c.call("GET", bufferPath(name, "recent")+"?count="+strconv.Itoa(count), nil, &m)
	return m, err
}

// Reset empties a buffer.
func (c *Client) Reset(name string) error {
	return c.call("POST", bufferPath(name, "reset"), nil, nil)
}

// Info describes a buffer.
func (c *Client) Info(name string) (BufferInfo, error) {
	var info BufferInfo
	err := c.call("GET", bufferPath(name), nil, &info)
	return info, err
}

// Buffers returns every buffer.
func (c *Client) Buffers() ([]BufferInfo, error) {
	var list []BufferInfo
	err := c.call("GET", "/api/v1/buffers", nil, &list)
	return list, err
}

// Exec runs a named command and returns its raw result.
func (c *Client) Exec(command string, args []any) (json.RawMessage, error) {
	var body struct {
		Result json.RawMessage `json:"result"`
	}
	err := c.call("POST", "/api/v1/command", map[string]any{
		"command": command,
		"args":    args,
	}, &body)
	return body.Result, err
}

// --- Listing ---

// List writes the buffers, optionally filtered by name, as a table or JSON.
func (c *Client) List(names []string, jsonOutput bool, w io.Writer) error {
	list, err := c.Buffers()
	if err != nil {
		return err
	}

	if len(names) > 0 {
		filter := make(map[string]bool)
		for _, n := range names {
			filter[n] = true
		}
		var filtered []BufferInfo
		for _, b := range list {
			if filter[b.Name] {
				filtered = append(filtered, b)
			}
		}
		list = filtered
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	return formatBufferTable(list, w, isTerminal(w), time.Now())
}

func formatBufferTable(list []BufferInfo, w io.Writer, color bool, now time.Time) error {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tCHANNELS\tCAPACITY\tFILL\tWRITTEN\tAGE\n")

	for _, b := range list {
		fill := formatFill(b.Length, b.Capacity)
		if color {
			fill = colorFill(fill, b.Full)
		}
		if b.Strict {
			fill += " strict"
		}

		age := "-"
		if !b.CreatedAt.IsZero() {
			age = formatDuration(now.Sub(b.CreatedAt))
		}

		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\n",
			b.Name, b.Channels, b.Capacity, fill, b.SamplesWritten, age)
	}
	return tw.Flush()
}

func formatFill(length, capacity int) string {
	if capacity == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", length, capacity)
}

func colorFill(fill string, full bool) string {
	if full {
		return "\033[32m" + fill + "\033[0m"
	}
	return "\033[33m" + fill + "\033[0m"
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// --- Sample I/O ---

// ParseSamples reads numbers separated by whitespace or commas.
func ParseSamples(r io.Reader) ([]float32, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	sc.Split(bufio.ScanWords)

	var out []float32
	for sc.Scan() {
		for _, field := range strings.Split(sc.Text(), ",") {
			if field == "" {
				continue
			}
			f, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid sample %q", field)
			}
			out = append(out, float32(f))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteSamples writes one value per line.
func WriteSamples(w io.Writer, data []float32) error {
	bw := bufio.NewWriter(w)
	for _, v := range data {
		bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteMatrix writes one line per sample with a column per channel.
func WriteMatrix(w io.Writer, m Matrix) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < m.Samples; i++ {
		for ch := 0; ch < m.Channels; ch++ {
			if ch > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(strconv.FormatFloat(float64(m.Data[ch*m.Samples+i]), 'g', -1, 32))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// --- Event stream ---

// Events follows the daemon event stream, writing "TYPE data" lines to w
// until ctx is cancelled or the daemon closes the stream.
func (c *Client) Events(ctx context.Context, types []string, w io.Writer) error {
	path := "/api/v1/events/stream"
	if len(types) > 0 {
		path += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	var eventType string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			fmt.Fprintf(w, "%s %s\n", eventType, line[len("data: "):])
		case line == "":
			eventType = ""
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// --- Daemon operations ---

// Shutdown initiates daemon shutdown.
func (c *Client) Shutdown() error {
	return c.call("POST", "/api/v1/shutdown", nil, nil)
}

// ReloadResult lists the preset buffers a reload touched.
type ReloadResult struct {
	Added   []string `json:"added"`
	Changed []string `json:"changed"`
	Removed []string `json:"removed"`
}

// Reload triggers config reload.
func (c *Client) Reload() (ReloadResult, error) {
	var r ReloadResult
	err := c.call("POST", "/api/v1/config/reload", nil, &r)
	return r, err
}

// Version returns daemon version info.
func (c *Client) Version() (map[string]string, error) {
	var v map[string]string
	err := c.call("GET", "/api/v1/version", nil, &v)
	return v, err
}

// --- Health checks ---

// Health checks daemon liveness.
func (c *Client) Health() (string, error) {
	return c.probe("/healthz")
}

// Ready checks daemon readiness, optionally waiting on named buffers.
func (c *Client) Ready(buffers []string) (string, error) {
	path := "/readyz"
	if len(buffers) > 0 {
		path += "?buffers=" + url.QueryEscape(strings.Join(buffers, ","))
	}
	return c.probe(path)
}

// probe returns the status field; a 503 is a status, not an error.
func (c *Client) probe(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid response: %w", err)
	}
	status, _ := body["status"].(string)
	if resp.StatusCode >= 400 && status == "" {
		msg, _ := body["error"].(string)
		return "", &APIError{Status: resp.StatusCode, Message: msg}
	}
	return status, nil
}
