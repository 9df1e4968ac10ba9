package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/branchx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/rolloutx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
)

type runnerFunc func(ctx context.Context, task agentx.Task) (*agentx.Result, error)

func (f runnerFunc) Run(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
	return f(ctx, task)
}

func testContainer(t *testing.T) *Container {
	t.Helper()
	sched, err := branchx.NewScheduler(branchx.Budget{InitialRollouts: 1, Repeats: 1, Total: 1}, entropyx.ModeWhole, 3)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	writer := sinkx.NewWriter(sinkx.NewMemoryStore())
	t.Cleanup(func() { _ = writer.Close() })

	runner := runnerFunc(func(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
		res := agentx.NewResult(task)
		res.Termination = agentx.TerminationAnswered
		return res, nil
	})
	engine, err := rolloutx.NewEngine(runner, sched, writer)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &Container{Scheduler: sched, Writer: writer, Engine: engine}
}

func TestServer_Routes(t *testing.T) {
	c := testContainer(t)
	if _, err := c.Engine.Run(context.Background(), []rolloutx.Question{{Question: "q", Answer: "a"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	app := newServer(c)

	resp, err := app.Test(httptest.NewRequest("GET", "/progress", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("progress: %v %v", resp, err)
	}
	var p rolloutx.Progress
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if p.Completed != 1 || !p.Finished {
		t.Fatalf("unexpected progress %+v", p)
	}

	for path, want := range map[string]int{"/health": 200, "/metrics": 200, "/nope": 404} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil || resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %v %v", path, want, resp, err)
		}
	}
}

func TestLoadResume_RestoresFromMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	primary, err := sinkx.OpenJSONL(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer primary.Close()

	rec := sinkx.Record{Question: "q", RolloutIndex: 0, Termination: agentx.TerminationAnswered}
	c := &Container{Primary: primary, Mirrors: []sinkx.Store{sinkx.NewMemoryStore(rec)}}

	records, err := c.loadResume(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("unexpected resume %v %v", records, err)
	}
	onDisk, err := sinkx.ReadJSONL(path)
	if err != nil || len(onDisk) != 1 || onDisk[0].Question != "q" {
		t.Fatalf("expected record restored into primary, got %v %v", onDisk, err)
	}

	// A populated primary is authoritative.
	again, err := c.loadResume(context.Background())
	if err != nil || len(again) != 1 {
		t.Fatalf("unexpected second resume %v %v", again, err)
	}
}
