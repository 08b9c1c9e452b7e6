package dispatch

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stagehand-dev/stagehand/session"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"research", "stagehand.dispatch.research"},
		{"deep.dive", "stagehand.dispatch.deep-dive"},
		{"multi word route", "stagehand.dispatch.multi-word-route"},
		{"wild*card>", "stagehand.dispatch.wild-card-"},
		{"", "stagehand.dispatch.default"},
	}
	for _, tt := range tests {
		if got := SubjectFor(tt.route); got != tt.want {
			t.Errorf("SubjectFor(%q) = %q, want %q", tt.route, got, tt.want)
		}
	}
}

func TestDecodeRecord(t *testing.T) {
	rec := session.NewDispatchRecord("session-1", "research")
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != rec.ID || decoded.SessionID != "session-1" || decoded.Route != "research" {
		t.Errorf("decoded record mismatch: %+v", decoded)
	}
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	if _, err := decodeRecord([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := decodeRecord([]byte(`{"route":"x"}`)); err == nil || !strings.Contains(err.Error(), "no id") {
		t.Errorf("expected missing-id error, got %v", err)
	}
}
