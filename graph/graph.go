// Package graph provides the static phase graph for a workflow: phase
// definitions, their topology, and the successor structure the engine
// consults when computing transitions.
//
// A graph is read-only after loading. Phase "type" strings from the
// definition file are normalized into the Topology tagged union at the
// loading boundary, so nothing downstream branches on raw strings.
package graph

import (
	"fmt"
	"strings"
)

// PhaseID identifies one phase of a workflow.
type PhaseID string

// Topology is the transition rule family a phase follows.
type Topology int

const (
	// TopologyLinear proceeds to the configured next phase.
	TopologyLinear Topology = iota
	// TopologyOptional may be skipped when its skip condition is set
	// in workflow metadata; otherwise behaves as Linear.
	TopologyOptional
	// TopologyAuto behaves as Linear but binds no worker and requires
	// no verification. Deprecated in favor of binding a real worker;
	// still supported.
	TopologyAuto
	// TopologyIterative stays on the same phase once per configured
	// iteration worker before proceeding.
	TopologyIterative
	// TopologyParallel tracks concurrently-launched branches and only
	// proceeds once every branch is terminal.
	TopologyParallel
	// TopologyRemediation loops back to an earlier phase while the
	// validation status flag demands it, bounded by MaxRemediation.
	TopologyRemediation
)

// String returns the canonical name for a topology.
func (t Topology) String() string {
	switch t {
	case TopologyLinear:
		return "linear"
	case TopologyOptional:
		return "optional"
	case TopologyAuto:
		return "auto"
	case TopologyIterative:
		return "iterative"
	case TopologyParallel:
		return "parallel"
	case TopologyRemediation:
		return "remediation"
	default:
		return fmt.Sprintf("topology(%d)", int(t))
	}
}

// ParseTopology normalizes a topology name from a definition file.
// Accepts the historical enum-style spellings ("LINEAR", "Optional")
// alongside the canonical lowercase names.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "":
		return TopologyLinear, nil
	case "optional":
		return TopologyOptional, nil
	case "auto":
		return TopologyAuto, nil
	case "iterative":
		return TopologyIterative, nil
	case "parallel":
		return TopologyParallel, nil
	case "remediation":
		return TopologyRemediation, nil
	default:
		return TopologyLinear, fmt.Errorf("unknown phase topology: %q", s)
	}
}

// BranchID identifies one branch of a Parallel phase.
type BranchID string

// BranchSpec describes one configured branch of a Parallel phase.
type BranchSpec struct {
	// Worker is the delegated worker bound to this branch.
	Worker string
	// FailOnError marks the branch as critical: a failed critical
	// branch halts the whole workflow.
	FailOnError bool
}

// PhaseDefinition is the static description of one phase.
type PhaseDefinition struct {
	ID       PhaseID
	Topology Topology

	// Next is the successor phase. Empty means the workflow completes
	// after this phase.
	Next PhaseID

	// Worker is the delegated worker bound to this phase. Empty for
	// Auto phases and for Parallel phases (which bind workers per
	// branch).
	Worker string

	// SkipConditionKey names the metadata flag that, when set truthy,
	// skips an Optional phase without verification.
	SkipConditionKey string

	// IterationWorkers lists the workers an Iterative phase cycles
	// through, one advance call each.
	IterationWorkers []string

	// Branches maps branch IDs to their specs for Parallel phases.
	Branches map[BranchID]BranchSpec

	// RemediationTarget is the phase a Remediation phase loops back to.
	RemediationTarget PhaseID

	// MaxRemediation bounds how many times the loop-back may fire
	// before the workflow halts.
	MaxRemediation int
}

// Graph is the static, read-only phase graph of one named workflow.
type Graph struct {
	name   string
	first  PhaseID
	phases map[PhaseID]*PhaseDefinition
	order  []PhaseID
}

// New builds a Graph from an ordered list of phase definitions. The
// first definition is the entry phase.
func New(name string, defs []PhaseDefinition) (*Graph, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("workflow %q has no phases", name)
	}

	g := &Graph{
		name:   name,
		first:  defs[0].ID,
		phases: make(map[PhaseID]*PhaseDefinition, len(defs)),
		order:  make([]PhaseID, 0, len(defs)),
	}
	for i := range defs {
		def := defs[i]
		if def.ID == "" {
			return nil, fmt.Errorf("workflow %q: phase %d has no id", name, i)
		}
		if _, dup := g.phases[def.ID]; dup {
			return nil, fmt.Errorf("workflow %q: duplicate phase id %q", name, def.ID)
		}
		g.phases[def.ID] = &def
		g.order = append(g.order, def.ID)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the workflow name this graph describes.
func (g *Graph) Name() string { return g.name }

// First returns the entry phase id.
func (g *Graph) First() PhaseID { return g.first }

// Phase returns the definition for id, or nil when the id is not a
// member of the graph.
func (g *Graph) Phase(id PhaseID) *PhaseDefinition {
	return g.phases[id]
}

// Phases returns phase definitions in declaration order.
func (g *Graph) Phases() []*PhaseDefinition {
	out := make([]*PhaseDefinition, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.phases[id])
	}
	return out
}

// Len returns the number of phases in the graph.
func (g *Graph) Len() int { return len(g.order) }

// validate checks structural consistency: successor and remediation
// pointers must resolve, and every topology must carry the fields it
// needs.
func (g *Graph) validate() error {
	for _, id := range g.order {
		def := g.phases[id]

		if def.Next != "" && g.phases[def.Next] == nil {
			return fmt.Errorf("workflow %q: phase %q points at unknown next phase %q", g.name, id, def.Next)
		}

		switch def.Topology {
		case TopologyLinear:
			if def.Worker == "" {
				return fmt.Errorf("workflow %q: linear phase %q has no worker binding", g.name, id)
			}
		case TopologyOptional:
			if def.Worker == "" {
				return fmt.Errorf("workflow %q: optional phase %q has no worker binding", g.name, id)
			}
			if def.SkipConditionKey == "" {
				return fmt.Errorf("workflow %q: optional phase %q has no skip condition key", g.name, id)
			}
		case TopologyAuto:
			if def.Worker != "" {
				return fmt.Errorf("workflow %q: auto phase %q must not bind a worker", g.name, id)
			}
		case TopologyIterative:
			if len(def.IterationWorkers) == 0 {
				return fmt.Errorf("workflow %q: iterative phase %q has no iteration workers", g.name, id)
			}
		case TopologyParallel:
			if len(def.Branches) == 0 {
				return fmt.Errorf("workflow %q: parallel phase %q has no branches", g.name, id)
			}
			for branchID, spec := range def.Branches {
				if spec.Worker == "" {
					return fmt.Errorf("workflow %q: parallel phase %q branch %q has no worker", g.name, id, branchID)
				}
			}
		case TopologyRemediation:
			if def.RemediationTarget == "" {
				return fmt.Errorf("workflow %q: remediation phase %q has no target", g.name, id)
			}
			if g.phases[def.RemediationTarget] == nil {
				return fmt.Errorf("workflow %q: remediation phase %q targets unknown phase %q", g.name, id, def.RemediationTarget)
			}
			if def.MaxRemediation <= 0 {
				return fmt.Errorf("workflow %q: remediation phase %q needs max_remediation > 0", g.name, id)
			}
			if def.Worker == "" {
				return fmt.Errorf("workflow %q: remediation phase %q has no worker binding", g.name, id)
			}
		default:
			return fmt.Errorf("workflow %q: phase %q has unknown topology", g.name, id)
		}
	}
	return nil
}
