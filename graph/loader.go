package graph

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// phaseFile is the YAML shape of a workflow definition file.
type phaseFile struct {
	Name   string      `yaml:"name"`
	Phases []phaseYAML `yaml:"phases"`
}

type phaseYAML struct {
	ID                string            `yaml:"id"`
	Type              string            `yaml:"type"`
	Next              string            `yaml:"next"`
	Worker            string            `yaml:"worker"`
	SkipConditionKey  string            `yaml:"skip_condition_key"`
	IterationWorkers  []string          `yaml:"iteration_workers"`
	Branches          map[string]branch `yaml:"branches"`
	RemediationTarget string            `yaml:"remediation_target"`
	MaxRemediation    int               `yaml:"max_remediation"`
}

type branch struct {
	Worker      string `yaml:"worker"`
	FailOnError bool   `yaml:"fail_on_error"`
}

// LoadFromFile loads one workflow graph from a YAML definition file.
func LoadFromFile(path string, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}

	var file phaseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition %s: %w", path, err)
	}

	name := file.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	defs := make([]PhaseDefinition, 0, len(file.Phases))
	for _, p := range file.Phases {
		topology, err := ParseTopology(p.Type)
		if err != nil {
			return nil, fmt.Errorf("workflow %q phase %q: %w", name, p.ID, err)
		}
		if topology == TopologyAuto {
			logger.Warn("Phase uses deprecated auto topology; bind a worker instead",
				"workflow", name,
				"phase", p.ID)
		}

		def := PhaseDefinition{
			ID:                PhaseID(p.ID),
			Topology:          topology,
			Next:              PhaseID(p.Next),
			Worker:            p.Worker,
			SkipConditionKey:  p.SkipConditionKey,
			IterationWorkers:  p.IterationWorkers,
			RemediationTarget: PhaseID(p.RemediationTarget),
			MaxRemediation:    p.MaxRemediation,
		}
		if len(p.Branches) > 0 {
			def.Branches = make(map[BranchID]BranchSpec, len(p.Branches))
			for id, b := range p.Branches {
				def.Branches[BranchID(id)] = BranchSpec{
					Worker:      b.Worker,
					FailOnError: b.FailOnError,
				}
			}
		}
		defs = append(defs, def)
	}

	g, err := New(name, defs)
	if err != nil {
		return nil, err
	}

	logger.Debug("Loaded workflow definition",
		"workflow", name,
		"path", path,
		"phases", g.Len())

	return g, nil
}

// LoadDir loads every *.yaml / *.yml workflow definition in dir,
// keyed by workflow name.
func LoadDir(dir string, logger *slog.Logger) (map[string]*Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	graphs := make(map[string]*Graph)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		g, err := LoadFromFile(filepath.Join(dir, entry.Name()), logger)
		if err != nil {
			return nil, err
		}
		if _, dup := graphs[g.Name()]; dup {
			return nil, fmt.Errorf("duplicate workflow name %q in %s", g.Name(), dir)
		}
		graphs[g.Name()] = g
	}

	return graphs, nil
}
