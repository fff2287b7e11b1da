// Package sqlgptctl is a small HTTP client for a running sqlgpt server.
package sqlgptctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:5000"
	defaultTimeout = 2 * time.Minute
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
}

type command struct {
	name  string
	args  string
	route string
	build func(args []string) (call, error)
}

func get(path string) func([]string) (call, error) {
	return func([]string) (call, error) { return call{method: http.MethodGet, path: path}, nil }
}

// textBody posts the remaining arguments, joined by spaces, as field.
func textBody(path, field, what string) func([]string) (call, error) {
	return func(args []string) (call, error) {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return call{}, fmt.Errorf("requires %s", what)
		}
		return call{method: http.MethodPost, path: path, body: map[string]string{field: text}}, nil
	}
}

var commands = []command{
	{name: "health", route: "GET /healthz", build: get("/healthz")},
	{name: "ready", route: "GET /readyz", build: get("/readyz")},
	{name: "test-connection", route: "GET /api/test-connection", build: get("/api/test-connection")},
	{name: "schema", route: "GET /api/schema", build: get("/api/schema")},
	{name: "schemas", route: "GET /api/browser/schemas", build: get("/api/browser/schemas")},
	{name: "tables", route: "GET /api/browser/tables", build: get("/api/browser/tables")},
	{name: "structure", args: "[schema.]table", route: "GET /api/browser/table/structure", build: func(args []string) (call, error) {
		schema, table, err := qualifiedTable(args)
		if err != nil {
			return call{}, err
		}
		query := url.Values{"schema": {schema}, "table": {table}}
		return call{method: http.MethodGet, path: "/api/browser/table/structure?" + query.Encode()}, nil
	}},
	{name: "export", args: "[schema.]table", route: "POST /api/browser/table/export", build: func(args []string) (call, error) {
		schema, table, err := qualifiedTable(args)
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodPost, path: "/api/browser/table/export", body: map[string]string{"schema": schema, "table": table}}, nil
	}},
	{name: "process", args: "<prompt>", route: "POST /api/process", build: textBody("/api/process", "prompt", "a prompt")},
	{name: "execute", args: "<sql>", route: "POST /api/execute", build: textBody("/api/execute", "query", "a SQL statement")},
}

// Run executes one command against the server and returns the exit code:
// 0 on success, 1 when the request or statement failed, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout, stderr := writerOr(defaults.Stdout), writerOr(defaults.Stderr)

	flags := flag.NewFlagSet("sqlgptctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	baseURL := flags.String("base-url", stringOr(defaults.BaseURL, defaultBaseURL), "sqlgpt server base URL")
	apiKey := flags.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := flags.Duration("timeout", durationOr(defaults.Timeout, defaultTimeout), "HTTP timeout (e.g. 30s)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	c, err := lookup(flags.Args())
	if err != nil {
		if !errors.Is(err, errNoCommand) {
			_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		}
		usage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	status, body, err := c.do(ctx, client, strings.TrimRight(*baseURL, "/"), strings.TrimSpace(*apiKey))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if status >= http.StatusBadRequest {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", status, bytes.TrimSpace(body))
		return 1
	}

	printBody(stdout, body)
	// Statement failures come back as 200 with success=false.
	if unsuccessful(body) {
		return 1
	}
	return 0
}

var errNoCommand = errors.New("no command given")

func lookup(args []string) (call, error) {
	if len(args) == 0 {
		return call{}, errNoCommand
	}
	name := strings.TrimSpace(args[0])
	for _, c := range commands {
		if c.name != name {
			continue
		}
		built, err := c.build(args[1:])
		if err != nil {
			return call{}, fmt.Errorf("%s %w", name, err)
		}
		return built, nil
	}
	return call{}, fmt.Errorf("unknown command %q", name)
}

// qualifiedTable accepts "table" or "schema.table".
func qualifiedTable(args []string) (string, string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", "", errors.New("requires exactly one [schema.]table argument")
	}
	if schema, table, ok := strings.Cut(args[0], "."); ok {
		return schema, table, nil
	}
	return "public", args[0], nil
}

func (c call) do(ctx context.Context, client *http.Client, baseURL, apiKey string) (int, []byte, error) {
	var payload io.Reader
	if c.body != nil {
		encoded, err := json.Marshal(c.body)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, baseURL+c.path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// printBody indents JSON responses and prints anything else as is.
func printBody(w io.Writer, body []byte) {
	if len(bytes.TrimSpace(body)) == 0 {
		return
	}
	var indented bytes.Buffer
	if json.Valid(body) && json.Indent(&indented, bytes.TrimSpace(body), "", "  ") == nil {
		_, _ = fmt.Fprintln(w, indented.String())
		return
	}
	_, _ = fmt.Fprintln(w, string(body))
}

func unsuccessful(body []byte) bool {
	var envelope struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal(body, &envelope) != nil || envelope.Success == nil {
		return false
	}
	return !*envelope.Success
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlgptctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %-26s%s\n", strings.TrimSpace(c.name+" "+c.args), c.route)
	}
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func stringOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
