// Package webbrowser provides the "web_browser" built-in toolkit: a single
// tool that fetches a URL over HTTP and returns its text body, truncated to
// a bounded size. spec.md §1 places "individual tool bodies (...web
// fetch...)" out of scope for the orchestrator core; this toolkit exists
// to give the Tool Runner something real to exercise end-to-end, kept
// deliberately minimal (a GET and a byte cap, no rendering/JS execution)
// rather than growing into the kind of tool body spec.md excludes.
package webbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/advantch/agentrun/tools"
)

// ToolkitID is the toolkit identifier agent configs enable to activate
// this tool (spec.md §4.4 step 2's tool_config[toolkit_id] key).
const ToolkitID = "web_browser"

// ToolName is the tool's invocation name, matched against ToolCall.Name.
const ToolName = "web_browser_fetch"

// DefaultMaxBytes bounds how much of a fetched page's body is returned, so
// a single tool call cannot flood the model context with an arbitrarily
// large response.
const DefaultMaxBytes = 16 * 1024

type fetchArgs struct {
	URL string `json:"url"`
}

type fetchResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
	Truncated  bool   `json:"truncated"`
}

// ResultsString renders the fetched body directly, so the model sees the
// page text rather than a JSON envelope around it.
func (r fetchResult) ResultsString() string {
	return r.Body
}

var schemaJSON = json.RawMessage(`{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "description": "The absolute URL to fetch."}
  }
}`)

// New builds the web_browser toolkit's ToolSpec, using client to perform
// the HTTP GET. Pass http.DefaultClient for production use or a fake
// client in tests.
func New(client *http.Client, maxBytes int) tools.ToolSpec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return tools.ToolSpec{
		Name:        ToolName,
		ToolkitID:   ToolkitID,
		Description: "Fetches a URL and returns its text content.",
		SchemaJSON:  schemaJSON,
		Run: func(ctx context.Context, arguments json.RawMessage) (any, error) {
			var args fetchArgs
			if err := json.Unmarshal(arguments, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
			if err != nil {
				return nil, fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", args.URL, err)
			}
			defer resp.Body.Close()

			limited := io.LimitReader(resp.Body, int64(maxBytes)+1)
			raw, err := io.ReadAll(limited)
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			truncated := len(raw) > maxBytes
			if truncated {
				raw = raw[:maxBytes]
			}
			return fetchResult{
				URL:        args.URL,
				StatusCode: resp.StatusCode,
				Body:       string(raw),
				Truncated:  truncated,
			}, nil
		},
	}
}
