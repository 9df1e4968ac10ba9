package rolloutx

import (
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
)

// Progress is a snapshot of a run.
type Progress struct {
	StartedAt     time.Time                  `json:"started_at"`
	Questions     int                        `json:"questions"`
	QuestionsDone int                        `json:"questions_done"`
	Planned       int                        `json:"planned"`
	Scheduled     int                        `json:"scheduled"`
	Completed     int                        `json:"completed"`
	Resumed       int                        `json:"resumed"`
	Terminations  map[agentx.Termination]int `json:"terminations"`
	Supervisor    asyncx.SupervisorStats     `json:"supervisor"`
	Sink          sinkx.WriterStats          `json:"sink"`
	Stalled       bool                       `json:"stalled"`
	Finished      bool                       `json:"finished"`
}

func newProgress(questions, planned int) Progress {
	return Progress{
		StartedAt:    time.Now(),
		Questions:    questions,
		Planned:      planned,
		Terminations: make(map[agentx.Termination]int),
	}
}

func (p Progress) clone() Progress {
	out := p
	out.Terminations = make(map[agentx.Termination]int, len(p.Terminations))
	for k, v := range p.Terminations {
		out.Terminations[k] = v
	}
	return out
}
