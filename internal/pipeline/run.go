package pipeline

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/strata/internal/types"
)

// Stage selects which layers a load runs.
type Stage string

const (
	StageRaw    Stage = "raw"
	StageSilver Stage = "silver"
	StageGold   Stage = "gold"
	StageAll    Stage = "all"
)

// ParseStage validates a stage name from the CLI.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StageRaw:
		return StageRaw, nil
	case StageSilver:
		return StageSilver, nil
	case StageGold:
		return StageGold, nil
	case StageAll, "":
		return StageAll, nil
	}
	return "", fmt.Errorf("unknown stage %q (want raw, silver, gold, or all)", s)
}

func (s Stage) includes(layer types.Layer) bool {
	return s == StageAll || string(s) == string(layer)
}

// SourceResult is the outcome of one source or phase.
type SourceResult struct {
	Layer   types.Layer  `json:"layer"`
	Source  string       `json:"source"`
	Status  types.Status `json:"status"`
	Records int64        `json:"records"`
	Details string       `json:"details,omitempty"`
}

// RunResult collects the outcomes of one pipeline invocation.
type RunResult struct {
	RunID   string         `json:"run_id"`
	Results []SourceResult `json:"results"`
}

func (r *RunResult) add(res SourceResult) {
	r.Results = append(r.Results, res)
}

// Failed reports whether any source ended in a FAILED state.
func (r *RunResult) Failed() bool {
	for _, res := range r.Results {
		if res.Status == types.StatusFailed {
			return true
		}
	}
	return false
}
