package agentx_test

import (
	"strings"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
)

func parse(text string) agentx.Parsed {
	return agentx.NewProtocol(agentx.DefaultMarkers()).Parse(text)
}

func TestParse_Answer(t *testing.T) {
	ev := parse("<think>done</think><answer> Otis Elevator Company </answer>")
	if ev.Kind != agentx.KindAnswer {
		t.Fatalf("expected answer, got %s", ev.Kind)
	}
	if ev.Answer != "Otis Elevator Company" {
		t.Fatalf("unexpected answer %q", ev.Answer)
	}
	if ev.Reasoning != "done" {
		t.Fatalf("unexpected reasoning %q", ev.Reasoning)
	}
}

func TestParse_AnswerWinsOverCalls(t *testing.T) {
	ev := parse(`<tool_call>{"name":"search","arguments":{"query":"x"}}</tool_call><answer>42</answer>`)
	if ev.Kind != agentx.KindAnswer || ev.Answer != "42" {
		t.Fatalf("expected answer 42, got %+v", ev)
	}
}

func TestParse_FirstAnswerPair(t *testing.T) {
	ev := parse("<answer>first</answer> and <answer>second</answer>")
	if ev.Answer != "first" {
		t.Fatalf("expected first answer, got %q", ev.Answer)
	}
}

func TestParse_MultipleCallsInOrder(t *testing.T) {
	ev := parse(`<think>two lookups</think>
<tool_call>{"name": "search", "arguments": {"query": "eiffel elevators"}}</tool_call>
<tool_call>{"name": "browse", "arguments": {"url": "https://example.org", "goal": "designer"}}</tool_call>`)
	if ev.Kind != agentx.KindToolCall {
		t.Fatalf("expected tool call, got %s", ev.Kind)
	}
	if len(ev.Calls) != 2 || ev.Calls[0].Name != "search" || ev.Calls[1].Name != "browse" {
		t.Fatalf("unexpected calls %+v", ev.Calls)
	}
	if ev.Calls[1].Arguments["goal"] != "designer" {
		t.Fatalf("arguments not decoded: %+v", ev.Calls[1].Arguments)
	}
}

func TestParse_LenientJSON(t *testing.T) {
	ev := parse(`<tool_call>{
		// look it up
		"name": "search",
		"arguments": {"query": "otis",},
	}</tool_call>`)
	if ev.Kind != agentx.KindToolCall || ev.Calls[0].Malformed() {
		t.Fatalf("expected comments and trailing commas to parse, got %+v", ev)
	}
}

func TestParse_StringEncodedArguments(t *testing.T) {
	ev := parse(`<tool_call>{"name":"search","arguments":"{\"query\":\"otis\"}"}</tool_call>`)
	if ev.Kind != agentx.KindToolCall || ev.Calls[0].Arguments["query"] != "otis" {
		t.Fatalf("expected string arguments to decode, got %+v", ev.Calls)
	}
}

func TestParse_PartiallyMalformed(t *testing.T) {
	ev := parse(`<tool_call>not json</tool_call><tool_call>{"name":"search","arguments":{}}</tool_call>`)
	if ev.Kind != agentx.KindToolCall {
		t.Fatalf("one valid call keeps the round a tool call, got %s", ev.Kind)
	}
	if !ev.Calls[0].Malformed() || ev.Calls[1].Malformed() {
		t.Fatalf("unexpected call states %+v", ev.Calls)
	}
	if !strings.Contains(ev.Calls[0].Problem, `{"name": "<tool name>"`) {
		t.Fatalf("problem should describe the expected shape: %q", ev.Calls[0].Problem)
	}
	if len(ev.ValidCalls()) != 1 {
		t.Fatalf("expected one valid call")
	}
}

func TestParse_AllMalformed(t *testing.T) {
	for _, text := range []string{
		`<tool_call>{"arguments":{}}</tool_call>`,
		`<tool_call>{"name":"search","arguments":[1,2]}</tool_call>`,
		`<tool_call>{"name":"search"`,
		`<answer>never closed`,
	} {
		ev := parse(text)
		if ev.Kind != agentx.KindMalformed {
			t.Fatalf("%q: expected malformed, got %s", text, ev.Kind)
		}
		if !strings.HasPrefix(ev.Problem, "Error:") {
			t.Fatalf("%q: expected a textual problem, got %q", text, ev.Problem)
		}
	}
}

func TestParse_ThinkIsOpaque(t *testing.T) {
	ev := parse("<think>maybe <answer>draft</answer> or <tool_call>{}</tool_call></think>")
	if ev.Kind != agentx.KindReasoning {
		t.Fatalf("markers inside think must be ignored, got %s", ev.Kind)
	}
}

func TestParse_PlainText(t *testing.T) {
	ev := parse("I should search for this first.")
	if ev.Kind != agentx.KindReasoning || ev.Reasoning != "I should search for this first." {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestJoinObservations(t *testing.T) {
	p := agentx.NewProtocol(agentx.DefaultMarkers())
	got := p.JoinObservations([]string{"a", "b"})
	want := "<tool_response>\na\n</tool_response>" + agentx.ObservationSeparator + "<tool_response>\nb\n</tool_response>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
