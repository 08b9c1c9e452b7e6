package verify

import (
	"regexp"
	"strings"
)

// WorkerClass groups workers by the artifact structure they must
// produce.
type WorkerClass string

const (
	// ClassPlanner covers *-planner workers.
	ClassPlanner WorkerClass = "planner"
	// ClassBuilder covers *-builder and *-developer workers.
	ClassBuilder WorkerClass = "builder"
	// ClassReviewer covers *-reviewer and *-validator workers.
	ClassReviewer WorkerClass = "reviewer"
	// ClassGeneric is the fallback contract for any other worker.
	ClassGeneric WorkerClass = "generic"
)

// SectionRequirement defines a required artifact section.
type SectionRequirement struct {
	Name        string         // Human-readable name
	Pattern     *regexp.Regexp // Regex pattern to match section header
	MinContent  int            // Minimum content length after header (0 = just header required)
	Description string         // Description for diagnostics
}

// Requirements maps worker classes to their required section patterns.
type Requirements struct {
	RequiredSections map[WorkerClass][]SectionRequirement
}

// DefaultRequirements returns the default artifact contracts per
// worker class.
func DefaultRequirements() *Requirements {
	title := SectionRequirement{
		Name:        "Title",
		Pattern:     regexp.MustCompile(`(?m)^#\s+.+`),
		MinContent:  0,
		Description: "Artifact title (# heading)",
	}

	return &Requirements{
		RequiredSections: map[WorkerClass][]SectionRequirement{
			ClassPlanner: {
				title,
				{
					Name:        "Approach",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+approach\b`),
					MinContent:  40,
					Description: "Approach section explaining the plan",
				},
				{
					Name:        "Steps",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+steps?\b`),
					MinContent:  40,
					Description: "Steps section listing the planned work",
				},
			},
			ClassBuilder: {
				title,
				{
					Name:        "Changes",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+changes?\b`),
					MinContent:  40,
					Description: "Changes section listing what was built",
				},
				{
					Name:        "Verification",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+verification\b`),
					MinContent:  20,
					Description: "Verification section showing how the work was checked",
				},
			},
			ClassReviewer: {
				title,
				{
					Name:        "Findings",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+findings?\b`),
					MinContent:  20,
					Description: "Findings section",
				},
				{
					Name:        "Verdict",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+verdict\b`),
					MinContent:  0,
					Description: "Verdict section with the review outcome",
				},
			},
			ClassGeneric: {
				title,
				{
					Name:        "Summary",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+summary\b`),
					MinContent:  20,
					Description: "Summary section",
				},
				{
					Name:        "Outcome",
					Pattern:     regexp.MustCompile(`(?mi)^##\s+outcome\b`),
					MinContent:  0,
					Description: "Outcome section",
				},
			},
		},
	}
}

// ClassFor derives the worker class from a worker name suffix.
func ClassFor(worker string) WorkerClass {
	switch {
	case strings.HasSuffix(worker, "-planner"):
		return ClassPlanner
	case strings.HasSuffix(worker, "-builder"), strings.HasSuffix(worker, "-developer"):
		return ClassBuilder
	case strings.HasSuffix(worker, "-reviewer"), strings.HasSuffix(worker, "-validator"):
		return ClassReviewer
	default:
		return ClassGeneric
	}
}
