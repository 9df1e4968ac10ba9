package agentx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Markers are the delimiters of the text protocol spoken with the model.
type Markers struct {
	ThinkOpen     string
	ThinkClose    string
	CallOpen      string
	CallClose     string
	AnswerOpen    string
	AnswerClose   string
	ResponseOpen  string
	ResponseClose string
}

// DefaultMarkers returns the <think>/<tool_call>/<answer>/<tool_response> set.
func DefaultMarkers() Markers {
	return Markers{
		ThinkOpen:     "<think>",
		ThinkClose:    "</think>",
		CallOpen:      "<tool_call>",
		CallClose:     "</tool_call>",
		AnswerOpen:    "<answer>",
		AnswerClose:   "</answer>",
		ResponseOpen:  "<tool_response>",
		ResponseClose: "</tool_response>",
	}
}

// ObservationSeparator joins the observations of one round.
const ObservationSeparator = "\n\n"

// Kind classifies one model output.
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindToolCall  Kind = "tool_call"
	KindAnswer    Kind = "answer"
	KindMalformed Kind = "malformed"
)

// Call is one tool invocation found in an output, in order of appearance.
type Call struct {
	Index     int            `json:"index"`
	Raw       string         `json:"raw"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Problem is set when the call could not be parsed. It is phrased as an
	// observation for the model.
	Problem string `json:"problem,omitempty"`
}

// Malformed reports whether the call failed to parse.
func (c Call) Malformed() bool { return c.Problem != "" }

// Parsed is the typed result of parsing one output.
type Parsed struct {
	Kind      Kind
	Reasoning string
	Calls     []Call
	Answer    string

	// Problem describes why a Malformed output was rejected.
	Problem string
}

// ValidCalls returns the calls that parsed.
func (e Parsed) ValidCalls() []Call {
	out := make([]Call, 0, len(e.Calls))
	for _, c := range e.Calls {
		if !c.Malformed() {
			out = append(out, c)
		}
	}
	return out
}

type segmentKind int

const (
	segText segmentKind = iota
	segThink
	segCall
	segAnswer
)

type segment struct {
	kind       segmentKind
	body       string
	terminated bool
}

// Protocol parses model outputs and formats observations.
type Protocol struct {
	m Markers
}

// NewProtocol returns a protocol using m.
func NewProtocol(m Markers) *Protocol {
	return &Protocol{m: m}
}

// Markers returns the protocol delimiters.
func (p *Protocol) Markers() Markers { return p.m }

// lex splits text into delimited segments. The body of a segment runs to
// its own closing marker, so markers inside a think block are opaque. An
// opener without a closer yields an unterminated segment that swallows the
// rest of the text.
func (p *Protocol) lex(text string) []segment {
	openers := []struct {
		kind  segmentKind
		open  string
		close string
	}{
		{segThink, p.m.ThinkOpen, p.m.ThinkClose},
		{segCall, p.m.CallOpen, p.m.CallClose},
		{segAnswer, p.m.AnswerOpen, p.m.AnswerClose},
	}

	var out []segment
	pos := 0
	for pos < len(text) {
		at, which := -1, -1
		for i, o := range openers {
			if o.open == "" {
				continue
			}
			if idx := strings.Index(text[pos:], o.open); idx >= 0 && (at < 0 || idx < at) {
				at, which = idx, i
			}
		}
		if which < 0 {
			out = append(out, segment{kind: segText, body: text[pos:], terminated: true})
			break
		}
		if at > 0 {
			out = append(out, segment{kind: segText, body: text[pos : pos+at], terminated: true})
		}
		o := openers[which]
		bodyStart := pos + at + len(o.open)
		end := strings.Index(text[bodyStart:], o.close)
		if end < 0 {
			out = append(out, segment{kind: o.kind, body: text[bodyStart:]})
			break
		}
		out = append(out, segment{kind: o.kind, body: text[bodyStart : bodyStart+end], terminated: true})
		pos = bodyStart + end + len(o.close)
	}
	return out
}

// Parse classifies one output. A closed answer wins over everything else;
// otherwise tool calls are collected; an output with no protocol markers at
// all is reasoning.
func (p *Protocol) Parse(text string) Parsed {
	segs := p.lex(text)

	var (
		reasoning []string
		calls     []Call
		openAns   bool
	)
	for _, s := range segs {
		switch s.kind {
		case segThink:
			reasoning = append(reasoning, strings.TrimSpace(s.body))
		case segAnswer:
			if s.terminated {
				return Parsed{Kind: KindAnswer, Answer: strings.TrimSpace(s.body), Reasoning: strings.Join(reasoning, "\n")}
			}
			openAns = true
		case segCall:
			call := Call{Index: len(calls), Raw: strings.TrimSpace(s.body)}
			if !s.terminated {
				call.Problem = fmt.Sprintf("Error: tool call is missing its closing %s marker. %s", p.m.CallClose, p.expectedShape())
			} else {
				p.decodeCall(&call)
			}
			calls = append(calls, call)
		}
	}
	thought := strings.Join(reasoning, "\n")

	if len(calls) > 0 {
		ev := Parsed{Kind: KindToolCall, Calls: calls, Reasoning: thought}
		if len(ev.ValidCalls()) == 0 {
			ev.Kind = KindMalformed
			ev.Problem = calls[0].Problem
		}
		return ev
	}
	if openAns {
		return Parsed{
			Kind:      KindMalformed,
			Reasoning: thought,
			Problem:   fmt.Sprintf("Error: answer is missing its closing %s marker. Wrap the final answer as %sYOUR ANSWER%s.", p.m.AnswerClose, p.m.AnswerOpen, p.m.AnswerClose),
		}
	}
	if thought == "" {
		thought = strings.TrimSpace(text)
	}
	return Parsed{Kind: KindReasoning, Reasoning: thought}
}

func (p *Protocol) expectedShape() string {
	return fmt.Sprintf(`Expected %s{"name": "<tool name>", "arguments": {<argument object>}}%s.`, p.m.CallOpen, p.m.CallClose)
}

// decodeCall parses {"name", "arguments"}. Comments and trailing commas are
// tolerated; arguments may also arrive as a JSON-encoded string.
func (p *Protocol) decodeCall(c *Call) {
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(c.Raw)), &payload); err != nil {
		c.Problem = fmt.Sprintf("Error: could not parse tool call (%v). %s", err, p.expectedShape())
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		c.Problem = fmt.Sprintf(`Error: tool call has no "name". %s`, p.expectedShape())
		return
	}
	c.Name = strings.TrimSpace(payload.Name)

	args, err := decodeArguments(payload.Arguments)
	if err != nil {
		c.Problem = fmt.Sprintf("Error: arguments of %q are not a JSON object (%v). %s", c.Name, err, p.expectedShape())
		return
	}
	c.Arguments = args
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = jsonc.ToJSON([]byte(inner))
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// WrapObservation wraps one tool result in response markers.
func (p *Protocol) WrapObservation(s string) string {
	return p.m.ResponseOpen + "\n" + s + "\n" + p.m.ResponseClose
}

// JoinObservations wraps and joins the observations of one round.
func (p *Protocol) JoinObservations(obs []string) string {
	wrapped := make([]string, len(obs))
	for i, o := range obs {
		wrapped[i] = p.WrapObservation(o)
	}
	return strings.Join(wrapped, ObservationSeparator)
}
