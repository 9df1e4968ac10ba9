package toolx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/errx"
)

func echoTool(name, kind string) toolx.Tool {
	return toolx.NewFunc(toolx.Spec{Name: name, Kind: kind, Required: []string{"query"}},
		func(_ context.Context, args map[string]any) (string, error) {
			return name + ":" + args["query"].(string), nil
		})
}

func registry(t *testing.T, tools ...toolx.Tool) *toolx.Registry {
	t.Helper()
	r, err := toolx.NewRegistry(tools)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDispatch_Success(t *testing.T) {
	r := registry(t, echoTool("search", "search"))
	got := r.Dispatch(context.Background(), "search", map[string]any{"query": "otis"})
	if got != "search:otis" {
		t.Fatalf("unexpected observation %q", got)
	}
}

func TestDispatch_UnknownToolIsText(t *testing.T) {
	r := registry(t, echoTool("search", "search"), echoTool("browse", "browse"))
	got := r.Dispatch(context.Background(), "calculator", nil)
	if !strings.Contains(got, `unknown tool "calculator"`) || !strings.Contains(got, "browse, search") {
		t.Fatalf("unexpected observation %q", got)
	}
}

func TestDispatch_MissingArgumentIsText(t *testing.T) {
	r := registry(t, echoTool("search", "search"))
	got := r.Dispatch(context.Background(), "search", map[string]any{})
	if !strings.Contains(got, `requires argument "query"`) {
		t.Fatalf("unexpected observation %q", got)
	}
}

func TestDispatch_FailureAndPanicAreText(t *testing.T) {
	failing := toolx.NewFunc(toolx.Spec{Name: "fail"}, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend down")
	})
	crashing := toolx.NewFunc(toolx.Spec{Name: "crash"}, func(context.Context, map[string]any) (string, error) {
		panic("boom")
	})
	r := registry(t, failing, crashing)

	if got := r.Dispatch(context.Background(), "fail", nil); !strings.Contains(got, "backend down") {
		t.Fatalf("unexpected observation %q", got)
	}
	if got := r.Dispatch(context.Background(), "crash", nil); !strings.Contains(got, "crashed: boom") {
		t.Fatalf("unexpected observation %q", got)
	}
}

func TestDispatch_CallTimeout(t *testing.T) {
	slow := toolx.NewFunc(toolx.Spec{Name: "slow"}, func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r, err := toolx.NewRegistry([]toolx.Tool{slow}, toolx.WithCallTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	got := r.Dispatch(context.Background(), "slow", nil)
	if !strings.HasPrefix(got, "Error:") {
		t.Fatalf("expected timeout text, got %q", got)
	}
}

func TestDispatch_PanicUnderCallTimeoutIsText(t *testing.T) {
	crashing := toolx.NewFunc(toolx.Spec{Name: "crash"}, func(context.Context, map[string]any) (string, error) {
		panic("boom")
	})
	r, err := toolx.NewRegistry([]toolx.Tool{crashing}, toolx.WithCallTimeout(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	got := r.Dispatch(context.Background(), "crash", nil)
	if !strings.Contains(got, `tool "crash" crashed: boom`) {
		t.Fatalf("unexpected observation %q", got)
	}
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := toolx.NewRegistry([]toolx.Tool{echoTool("search", "search"), echoTool("search", "search")})
	if !errx.HasCode(err, toolx.ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestDispatch_PerKindLimit(t *testing.T) {
	var inflight, peak atomic.Int64
	slow := func(name string) toolx.Tool {
		return toolx.NewFunc(toolx.Spec{Name: name, Kind: "browse"}, func(context.Context, map[string]any) (string, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return "ok", nil
		})
	}
	limiter := asyncx.NewLimiter(map[string]int{"browse": 1})
	r, err := toolx.NewRegistry([]toolx.Tool{slow("browse"), slow("click")}, toolx.WithLimiter(limiter))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		name := "browse"
		if i%2 == 1 {
			name = "click"
		}
		go func() {
			defer wg.Done()
			r.Dispatch(context.Background(), name, nil)
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected at most one browse-kind call in flight, saw %d", peak.Load())
	}
}

func TestHTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Arguments["query"] == "fail" {
			http.Error(w, "upstream quota", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("results for " + body.Arguments["query"].(string)))
	}))
	defer srv.Close()

	tools := toolx.HTTPTools([]toolx.Endpoint{{Name: "search", Kind: "search", URL: srv.URL}}, srv.Client())
	r := registry(t, tools...)

	if got := r.Dispatch(context.Background(), "search", map[string]any{"query": "otis"}); got != "results for otis" {
		t.Fatalf("unexpected observation %q", got)
	}
	if got := r.Dispatch(context.Background(), "search", map[string]any{"query": "fail"}); !strings.Contains(got, "429") {
		t.Fatalf("expected status in observation, got %q", got)
	}
	if !strings.Contains(r.Describe(), "Web search") {
		t.Fatalf("expected built-in description, got %q", r.Describe())
	}
}

func TestParseEndpoints(t *testing.T) {
	eps, err := toolx.ParseEndpoints([]string{"search=search@http://a/s", "visit=browse@http://b/v", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 || eps[1].Name != "visit" || eps[1].Kind != "browse" || eps[1].URL != "http://b/v" {
		t.Fatalf("unexpected endpoints %+v", eps)
	}
	if _, err := toolx.ParseEndpoints([]string{"search"}); !errx.HasCode(err, toolx.ErrEndpointSpec) {
		t.Fatalf("expected ErrEndpointSpec, got %v", err)
	}
}
