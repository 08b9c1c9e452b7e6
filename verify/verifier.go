// Package verify implements completion proof checking. A phase is
// considered done only when its worker has written an artifact file
// under the artifact root that satisfies the contract for that worker
// class. The engine never trusts a claimed completion without a
// passing verification result.
package verify

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/stagehand-dev/stagehand/graph"
)

// DefaultMinContentBytes is the minimum trimmed artifact size accepted
// when no explicit minimum is configured.
const DefaultMinContentBytes = 80

// Result holds the outcome of verifying one worker's artifact.
type Result struct {
	Passed bool `json:"passed"`

	// ArtifactPath is the file that was checked, empty when no
	// candidate was found.
	ArtifactPath string `json:"artifact_path,omitempty"`

	// Worker is the worker whose output was checked.
	Worker string `json:"worker"`

	// Failures lists every reason verification did not pass.
	Failures []string `json:"failures,omitempty"`
}

// Err folds the failures into a single error wrapping
// ErrPhaseNotVerified, nil when the result passed.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: worker %s: %s", ErrPhaseNotVerified, r.Worker, strings.Join(r.Failures, "; "))
}

// Verifier checks artifact files against worker-class contracts.
type Verifier struct {
	root         string
	minContent   int
	requirements *Requirements
	logger       *slog.Logger
}

// New creates a Verifier over the given artifact root. A minContent of
// zero falls back to DefaultMinContentBytes.
func New(root string, minContent int, logger *slog.Logger) *Verifier {
	if minContent <= 0 {
		minContent = DefaultMinContentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		root:         root,
		minContent:   minContent,
		requirements: DefaultRequirements(),
		logger:       logger,
	}
}

// Verify checks whether worker produced an acceptable artifact for
// taskID.
func (v *Verifier) Verify(taskID, worker string) Result {
	return v.verify(taskID, worker, "")
}

// VerifyBranch checks a single branch of a parallel phase. Branch
// artifacts may carry the branch id between the task id and the worker
// name.
func (v *Verifier) VerifyBranch(taskID, worker string, branch graph.BranchID) Result {
	return v.verify(taskID, worker, branch)
}

// VerifyParallelBranches verifies every branch of a parallel phase and
// returns per-branch results.
func (v *Verifier) VerifyParallelBranches(taskID string, branches map[graph.BranchID]graph.BranchSpec) map[graph.BranchID]Result {
	results := make(map[graph.BranchID]Result, len(branches))
	for id, spec := range branches {
		results[id] = v.VerifyBranch(taskID, spec.Worker, id)
	}
	return results
}

// RequireCompletion is the strict form of Verify: it returns an error
// wrapping ErrPhaseNotVerified when the proof is missing or malformed.
func (v *Verifier) RequireCompletion(taskID, worker string) (Result, error) {
	result := v.Verify(taskID, worker)
	return result, result.Err()
}

func (v *Verifier) verify(taskID, worker string, branch graph.BranchID) Result {
	result := Result{Worker: worker}

	if taskID == "" {
		result.Failures = append(result.Failures, "task id is required")
		return result
	}
	if worker == "" {
		result.Failures = append(result.Failures, "worker is required")
		return result
	}

	path, tried := v.findArtifact(taskID, worker, branch)
	if path == "" {
		result.Failures = append(result.Failures,
			fmt.Sprintf("no artifact found (tried %s)", strings.Join(tried, ", ")))
		return result
	}
	result.ArtifactPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("read artifact: %v", err))
		return result
	}

	content := string(data)
	if trimmed := len(strings.TrimSpace(content)); trimmed < v.minContent {
		result.Failures = append(result.Failures,
			fmt.Sprintf("artifact has %d bytes of content, need at least %d", trimmed, v.minContent))
	}

	class := ClassFor(worker)
	for _, req := range v.requirements.RequiredSections[class] {
		if failure := checkSection(content, req); failure != "" {
			result.Failures = append(result.Failures, failure)
		}
	}

	result.Passed = len(result.Failures) == 0
	if !result.Passed {
		v.logger.Debug("Artifact verification failed",
			"task_id", taskID,
			"worker", worker,
			"artifact", path,
			"failures", strings.Join(result.Failures, "; "))
	}
	return result
}

// findArtifact resolves the artifact path for a task/worker pair. It
// tries the exact name, then the branch-qualified name, then a
// recursive glob under the root. The tried patterns come back for
// diagnostics.
func (v *Verifier) findArtifact(taskID, worker string, branch graph.BranchID) (string, []string) {
	var tried []string

	exact := filepath.Join(v.root, fmt.Sprintf("%s_%s.md", taskID, worker))
	tried = append(tried, exact)
	if fileExists(exact) {
		return exact, tried
	}

	if branch != "" {
		branched := filepath.Join(v.root, fmt.Sprintf("%s_%s_%s.md", taskID, branch, worker))
		tried = append(tried, branched)
		if fileExists(branched) {
			return branched, tried
		}
	}

	pattern := filepath.Join(v.root, "**", fmt.Sprintf("%s*%s*.md", taskID, worker))
	tried = append(tried, pattern)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil || len(matches) == 0 {
		return "", tried
	}
	sort.Strings(matches)
	for _, m := range matches {
		if fileExists(m) {
			return m, tried
		}
	}
	return "", tried
}

// checkSection returns a failure description when the section is
// missing or too thin, empty when it passes.
func checkSection(content string, req SectionRequirement) string {
	loc := req.Pattern.FindStringIndex(content)
	if loc == nil {
		return fmt.Sprintf("missing section: %s (%s)", req.Name, req.Description)
	}
	if req.MinContent <= 0 {
		return ""
	}

	// Section content runs from the end of the header line to the next
	// heading or end of document.
	rest := content[loc[1]:]
	if idx := strings.Index(rest, "\n#"); idx >= 0 {
		rest = rest[:idx]
	}
	if len(strings.TrimSpace(rest)) < req.MinContent {
		return fmt.Sprintf("section %s is too thin (need %d+ chars of content)", req.Name, req.MinContent)
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
