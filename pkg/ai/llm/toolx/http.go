package toolx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxObservationBytes caps how much of a response body becomes observation text.
const maxObservationBytes = 256 << 10

// HTTPTool forwards a call to a backend that accepts
//
//	POST {"name": ..., "arguments": {...}}
//
// and answers with the observation as the response body.
type HTTPTool struct {
	spec   Spec
	url    string
	client *http.Client
}

// NewHTTPTool creates a tool backed by url. A nil client uses a 60s timeout.
func NewHTTPTool(spec Spec, url string, client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTool{spec: spec, url: url, client: client}
}

func (t *HTTPTool) Spec() Spec { return t.spec }

func (t *HTTPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{"name": t.spec.Name, "arguments": args})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObservationBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", toolErrors.NewWithMessage(ErrEndpoint,
			fmt.Sprintf("%s returned %d: %s", t.spec.Name, resp.StatusCode, strings.TrimSpace(string(data)))).
			WithDetail("status", resp.StatusCode)
	}
	return string(data), nil
}

// Endpoint is a configured HTTP tool.
type Endpoint struct {
	Name string
	Kind string
	URL  string
}

// ParseEndpoints parses "name=kind@url" entries, e.g.
// "search=search@http://localhost:8001/search".
func ParseEndpoints(entries []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, toolErrors.New(ErrEndpointSpec).WithDetail("entry", entry)
		}
		kind, url, ok := strings.Cut(rest, "@")
		if !ok || name == "" || url == "" {
			return nil, toolErrors.New(ErrEndpointSpec).WithDetail("entry", entry)
		}
		if kind == "" {
			kind = name
		}
		out = append(out, Endpoint{Name: name, Kind: kind, URL: url})
	}
	return out, nil
}

// endpointDescriptions gives the built-in argument contract of the common
// research tools.
var endpointDescriptions = map[string]Spec{
	"search": {Description: "Web search. Arguments: {\"query\": string}", Required: []string{"query"}},
	"browse": {Description: "Read a web page. Arguments: {\"url\": string, \"goal\": string}", Required: []string{"url"}},
	"click":  {Description: "Follow a link on the last page. Arguments: {\"link\": string}", Required: []string{"link"}},
}

// HTTPTools builds tools for every endpoint.
func HTTPTools(endpoints []Endpoint, client *http.Client) []Tool {
	tools := make([]Tool, 0, len(endpoints))
	for _, ep := range endpoints {
		spec := endpointDescriptions[ep.Kind]
		spec.Name = ep.Name
		spec.Kind = ep.Kind
		if spec.Description == "" {
			spec.Description = fmt.Sprintf("%s tool. Arguments: JSON object.", ep.Kind)
		}
		tools = append(tools, NewHTTPTool(spec, ep.URL, client))
	}
	return tools
}
