package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spoolq/spool/id"
)

func TestNew_GeneratesPrefixedID(t *testing.T) {
	jobID := id.NewJobID()
	if jobID.IsNil() {
		t.Fatal("NewJobID returned the Nil ID")
	}
	if !strings.HasPrefix(jobID.String(), "job_") {
		t.Errorf("job ID %q does not start with %q", jobID.String(), "job_")
	}

	workerID := id.NewWorkerID()
	if !strings.HasPrefix(workerID.String(), "wkr_") {
		t.Errorf("worker ID %q does not start with %q", workerID.String(), "wkr_")
	}
}

func TestNew_IsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		s := id.NewJobID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParse_RoundTrip(t *testing.T) {
	original := id.NewJobID()

	parsed, err := id.Parse(original.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", original.String(), err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), original.String())
	}
	if parsed.Prefix() != id.PrefixJob {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), id.PrefixJob)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []string{
		"",
		"not-a-typeid",
		"job_!!!invalid!!!",
	}
	for _, input := range tests {
		if _, err := id.Parse(input); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", input)
		}
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	workerID := id.NewWorkerID()

	_, err := id.ParseJobID(workerID.String())
	if err == nil {
		t.Fatalf("ParseJobID(%q) = nil error, want prefix mismatch", workerID.String())
	}
}

func TestNil_Behavior(t *testing.T) {
	var n id.ID
	if !n.IsNil() {
		t.Error("zero-value ID is not Nil")
	}
	if n.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", n.String())
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	original := id.NewJobID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("JSON round trip = %q, want %q", decoded.String(), original.String())
	}
}

func TestScan_And_Value(t *testing.T) {
	original := id.NewJobID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value error: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("Scan/Value round trip = %q, want %q", scanned.String(), original.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) did not produce the Nil ID")
	}
}
