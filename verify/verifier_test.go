package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stagehand-dev/stagehand/graph"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	return New(t.TempDir(), 0, nil)
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func genericArtifact() string {
	return `# Task report

## Summary

Implemented the requested change across the session layer and wired it up.

## Outcome

Done and checked in.
`
}

func TestVerifyExactName(t *testing.T) {
	v := newTestVerifier(t)
	path := writeArtifact(t, v.root, "task-1_doc-writer.md", genericArtifact())

	result := v.Verify("task-1", "doc-writer")
	if !result.Passed {
		t.Fatalf("expected pass, failures: %v", result.Failures)
	}
	if result.ArtifactPath != path {
		t.Errorf("expected artifact path %s, got %s", path, result.ArtifactPath)
	}
}

func TestVerifyBranchQualifiedName(t *testing.T) {
	v := newTestVerifier(t)
	writeArtifact(t, v.root, "task-1_backend_doc-writer.md", genericArtifact())

	result := v.VerifyBranch("task-1", "doc-writer", "backend")
	if !result.Passed {
		t.Fatalf("expected pass, failures: %v", result.Failures)
	}
}

func TestVerifyGlobFallback(t *testing.T) {
	v := newTestVerifier(t)
	nested := filepath.Join(v.root, "archive", "2026")
	writeArtifact(t, nested, "task-1-rev2-doc-writer-final.md", genericArtifact())

	result := v.Verify("task-1", "doc-writer")
	if !result.Passed {
		t.Fatalf("expected glob match to pass, failures: %v", result.Failures)
	}
	if !strings.Contains(result.ArtifactPath, "archive") {
		t.Errorf("expected nested artifact, got %s", result.ArtifactPath)
	}
}

func TestVerifyMissingArtifact(t *testing.T) {
	v := newTestVerifier(t)

	result := v.Verify("task-1", "doc-writer")
	if result.Passed {
		t.Fatal("expected failure for missing artifact")
	}
	if len(result.Failures) != 1 || !strings.Contains(result.Failures[0], "no artifact found") {
		t.Errorf("unexpected failures: %v", result.Failures)
	}
}

func TestVerifyTooShort(t *testing.T) {
	v := newTestVerifier(t)
	writeArtifact(t, v.root, "task-1_doc-writer.md", "# Hi\n\n## Summary\n\nok\n\n## Outcome\n\nok\n")

	result := v.Verify("task-1", "doc-writer")
	if result.Passed {
		t.Fatal("expected failure for thin artifact")
	}
	var sawLength bool
	for _, f := range result.Failures {
		if strings.Contains(f, "bytes of content") {
			sawLength = true
		}
	}
	if !sawLength {
		t.Errorf("expected content length failure, got %v", result.Failures)
	}
}

func TestVerifyMissingSection(t *testing.T) {
	v := newTestVerifier(t)
	content := "# Report\n\n## Summary\n\n" + strings.Repeat("all good here ", 10) + "\n"
	writeArtifact(t, v.root, "task-1_doc-writer.md", content)

	result := v.Verify("task-1", "doc-writer")
	if result.Passed {
		t.Fatal("expected failure for missing Outcome section")
	}
	var sawOutcome bool
	for _, f := range result.Failures {
		if strings.Contains(f, "Outcome") {
			sawOutcome = true
		}
	}
	if !sawOutcome {
		t.Errorf("expected missing Outcome failure, got %v", result.Failures)
	}
}

func TestVerifyPlannerContract(t *testing.T) {
	v := newTestVerifier(t)
	content := `# Plan for task-1

## Approach

Split the work into storage changes first, then the engine wiring, so each
piece lands behind a passing verification.

## Steps

1. Extend the state document with the new field.
2. Teach the loader to migrate old documents.
3. Wire the engine to read the field on advance.
`
	writeArtifact(t, v.root, "task-1_api-planner.md", content)

	if result := v.Verify("task-1", "api-planner"); !result.Passed {
		t.Fatalf("expected planner artifact to pass, failures: %v", result.Failures)
	}

	// A generic-shape artifact does not satisfy the planner contract.
	writeArtifact(t, v.root, "task-2_api-planner.md", genericArtifact())
	if result := v.Verify("task-2", "api-planner"); result.Passed {
		t.Fatal("expected generic-shape artifact to fail the planner contract")
	}
}

func TestClassFor(t *testing.T) {
	tests := []struct {
		worker string
		want   WorkerClass
	}{
		{"api-planner", ClassPlanner},
		{"go-builder", ClassBuilder},
		{"go-developer", ClassBuilder},
		{"code-reviewer", ClassReviewer},
		{"qa-validator", ClassReviewer},
		{"doc-writer", ClassGeneric},
	}
	for _, tt := range tests {
		if got := ClassFor(tt.worker); got != tt.want {
			t.Errorf("ClassFor(%q) = %q, want %q", tt.worker, got, tt.want)
		}
	}
}

func TestVerifyParallelBranches(t *testing.T) {
	v := newTestVerifier(t)
	writeArtifact(t, v.root, "task-1_backend_doc-writer.md", genericArtifact())

	branches := map[graph.BranchID]graph.BranchSpec{
		"backend":  {Worker: "doc-writer", FailOnError: true},
		"frontend": {Worker: "ui-writer"},
	}
	results := v.VerifyParallelBranches("task-1", branches)

	if !results["backend"].Passed {
		t.Errorf("expected backend to pass, failures: %v", results["backend"].Failures)
	}
	if results["frontend"].Passed {
		t.Error("expected frontend to fail, no artifact written")
	}
}

func TestRequireCompletion(t *testing.T) {
	v := newTestVerifier(t)

	if _, err := v.RequireCompletion("task-1", "doc-writer"); !errors.Is(err, ErrPhaseNotVerified) {
		t.Fatalf("expected ErrPhaseNotVerified, got %v", err)
	}

	writeArtifact(t, v.root, "task-1_doc-writer.md", genericArtifact())
	result, err := v.RequireCompletion("task-1", "doc-writer")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.Passed {
		t.Error("expected passing result")
	}
}

func TestWaitForArtifactAlreadyPresent(t *testing.T) {
	v := newTestVerifier(t)
	writeArtifact(t, v.root, "task-1_doc-writer.md", genericArtifact())

	result, err := v.WaitForArtifact(context.Background(), "task-1", "doc-writer", time.Second)
	if err != nil {
		t.Fatalf("expected immediate success, got %v", err)
	}
	if !result.Passed {
		t.Error("expected passing result")
	}
}

func TestWaitForArtifactAppears(t *testing.T) {
	v := newTestVerifier(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		path := filepath.Join(v.root, "task-1_doc-writer.md")
		_ = os.WriteFile(path, []byte(genericArtifact()), 0644)
	}()

	result, err := v.WaitForArtifact(context.Background(), "task-1", "doc-writer", 5*time.Second)
	if err != nil {
		t.Fatalf("expected artifact to be picked up, got %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passing result, failures: %v", result.Failures)
	}
}

func TestWaitForArtifactTimeout(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.WaitForArtifact(context.Background(), "task-1", "doc-writer", 150*time.Millisecond)
	if !errors.Is(err, ErrPhaseNotVerified) {
		t.Fatalf("expected ErrPhaseNotVerified on timeout, got %v", err)
	}
}

func TestResultErr(t *testing.T) {
	passed := Result{Passed: true, Worker: "doc-writer"}
	if err := passed.Err(); err != nil {
		t.Errorf("expected nil error for passing result, got %v", err)
	}

	failed := Result{Worker: "doc-writer", Failures: []string{"no artifact found"}}
	err := failed.Err()
	if !errors.Is(err, ErrPhaseNotVerified) {
		t.Fatalf("expected ErrPhaseNotVerified, got %v", err)
	}
	want := fmt.Sprintf("%s: worker doc-writer: no artifact found", ErrPhaseNotVerified)
	if err.Error() != want {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}
