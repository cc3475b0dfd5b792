package cli

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"dagweaver/internal/core"
	"dagweaver/internal/dag"
)

// PipelineTask is one task declaration from a pipeline document.
type PipelineTask struct {
	Name     string   `json:"name"`
	Run      string   `json:"run"`
	Cores    float64  `json:"cores"`
	MemoryMB int64    `json:"memory_mb"`
	Deps     []string `json:"deps"`
}

type pipelineDoc struct {
	Tasks []PipelineTask `json:"tasks"`
}

// ParsePipeline reads a pipeline document: a JSON object with a "tasks"
// array of {name, run, cores, memory_mb, deps}.
//
// Structural validation happens here; graph-level validation (duplicates,
// unknown deps, cycles) happens in dag.NewTaskGraph.
func ParsePipeline(r io.Reader) ([]PipelineTask, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc pipelineDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parsing pipeline document")
	}
	if len(doc.Tasks) == 0 {
		return nil, errors.New("pipeline declares no tasks")
	}
	for _, t := range doc.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return nil, errors.New("pipeline task without a name")
		}
		if strings.TrimSpace(t.Run) == "" {
			return nil, errors.Errorf("pipeline task %q has no run command", t.Name)
		}
		if t.Cores < 0 || t.MemoryMB < 0 {
			return nil, errors.Errorf("pipeline task %q declares negative resources", t.Name)
		}
	}
	return doc.Tasks, nil
}

// LoadPipeline reads and parses the pipeline file at path.
func LoadPipeline(path string) ([]PipelineTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening pipeline %q", path)
	}
	defer f.Close()
	return ParsePipeline(f)
}

// BuildGraph turns pipeline declarations into a validated task graph of
// shell tasks.
func BuildGraph(tasks []PipelineTask) (*dag.TaskGraph, error) {
	units := make([]core.UnitTask, 0, len(tasks))
	var edges []dag.Edge
	for _, t := range tasks {
		units = append(units, core.NewShellTask(t.Name, core.ResourceGrant{
			Cores:  t.Cores,
			Memory: t.MemoryMB << 20,
		}))
		for _, dep := range t.Deps {
			edges = append(edges, dag.Edge{From: dep, To: t.Name})
		}
	}
	return dag.NewTaskGraph(units, edges)
}
