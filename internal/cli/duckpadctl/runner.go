package duckpadctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"
)

const noResultsText = "No results found"

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer

	// NewPrompter builds the line reader for the shell command. Defaults to
	// NewLinePrompter.
	NewPrompter func() Prompter
}

type queryResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

type historyResponse struct {
	Entries []struct {
		ID           int64     `json:"id"`
		SQL          string    `json:"sql"`
		Status       string    `json:"status"`
		RowCount     int       `json:"row_count"`
		DurationMs   int64     `json:"duration_ms"`
		ErrorMessage string    `json:"error_message"`
		ExecutedAt   time.Time `json:"executed_at"`
	} `json:"entries"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("duckpadctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:3000"), "duckpad base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	c := apiClient{client: client, baseURL: strings.TrimRight(*baseURL, "/"), apiKey: strings.TrimSpace(*apiKey)}

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return c.printJSON(ctx, stdout, stderr, "/v1/health")
	case "ready":
		return c.printJSON(ctx, stdout, stderr, "/v1/ready")
	case "status":
		return c.printJSON(ctx, stdout, stderr, "/v1/status")
	case "history":
		return c.history(ctx, stdout, stderr, fs.Args()[1:])
	case "query":
		sqlText := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if sqlText == "" {
			_, _ = fmt.Fprintln(stderr, "Please enter a query")
			return 2
		}
		return c.query(ctx, stdout, stderr, sqlText)
	case "shell":
		newPrompter := defaults.NewPrompter
		if newPrompter == nil {
			newPrompter = NewLinePrompter
		}
		return c.shell(ctx, stdout, stderr, newPrompter())
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type apiClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func (c apiClient) printJSON(ctx context.Context, stdout, stderr io.Writer, path string) int {
	body, ok := c.call(ctx, stderr, http.MethodGet, path, nil)
	if !ok {
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func (c apiClient) query(ctx context.Context, stdout, stderr io.Writer, sqlText string) int {
	payload, err := json.Marshal(map[string]any{"sql": sqlText})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
		return 1
	}
	body, ok := c.call(ctx, stderr, http.MethodPost, "/v1/query", payload)
	if !ok {
		return 1
	}

	var result queryResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if len(result.Rows) == 0 {
		_, _ = fmt.Fprintln(stdout, noResultsText)
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatCell(value)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	if result.Truncated {
		_, _ = fmt.Fprintf(stdout, "(showing the first %d rows)\n", len(result.Rows))
	}
	return 0
}

func (c apiClient) history(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	body, ok := c.call(ctx, stderr, http.MethodGet, fmt.Sprintf("/v1/history?limit=%d", *limit), nil)
	if !ok {
		return 1
	}
	var response historyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if len(response.Entries) == 0 {
		_, _ = fmt.Fprintln(stdout, "no history")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tEXECUTED_AT\tSTATUS\tROWS\tDURATION_MS\tSQL")
	for _, entry := range response.Entries {
		sqlText := strings.Join(strings.Fields(entry.SQL), " ")
		if entry.ErrorMessage != "" {
			sqlText += "  -- " + entry.ErrorMessage
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			entry.ID, entry.ExecutedAt.UTC().Format(time.RFC3339), entry.Status, entry.RowCount, entry.DurationMs, sqlText)
	}
	_ = tw.Flush()
	return 0
}

// call performs the request and reports HTTP and transport failures on
// stderr.
func (c apiClient) call(ctx context.Context, stderr io.Writer, method, path string, payload []byte) ([]byte, bool) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return nil, false
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return nil, false
	}
	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, describeError(body))
		return nil, false
	}
	return body, true
}

// describeError prefers the envelope message and its details over the raw body.
func describeError(body []byte) string {
	var envelope struct {
		Message string         `json:"message"`
		Context map[string]any `json:"context"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		return strings.TrimSpace(string(body))
	}
	if details, ok := envelope.Context["details"].(string); ok && details != "" {
		return envelope.Message + ": " + details
	}
	return envelope.Message
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckpadctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  status               GET /v1/status")
	_, _ = fmt.Fprintln(w, "  history [-limit N]   GET /v1/history")
	_, _ = fmt.Fprintln(w, "  query <sql...>       POST /v1/query and print the rows")
	_, _ = fmt.Fprintln(w, "  shell                interactive prompt; statements end with ';'")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
