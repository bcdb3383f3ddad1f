package audit

import (
	"testing"

	"github.com/fentz26/qgate/internal/models"
)

type recordingSink struct {
	entries []models.PDREntry
}

func (r *recordingSink) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	e := models.PDREntry{Action: action, InputsHash: inputsHash, Outcome: outcome, Subject: subject, Details: details}
	r.entries = append(r.entries, e)
	return &e, nil
}

func TestRecordHashesInputs(t *testing.T) {
	sink := &recordingSink{}
	w := NewPDRWriter(sink)

	inputs := map[string]any{"paths": []string{"a.py"}}
	if _, err := w.Record(ActionBackupCreate, inputs, OutcomeSuccess, "rollback_1", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(sink.entries))
	}
	if got, want := sink.entries[0].InputsHash, HashInputs(inputs); got != want {
		t.Errorf("InputsHash = %s, want %s", got, want)
	}
	if len(sink.entries[0].InputsHash) != 64 {
		t.Errorf("Expected hex sha256, got %q", sink.entries[0].InputsHash)
	}
}

func TestHashInputsUnmarshalable(t *testing.T) {
	if got := HashInputs(make(chan int)); got != "hash_error" {
		t.Errorf("HashInputs(chan) = %q, want hash_error", got)
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *PDRWriter
	if e, err := w.Record(ActionBackupDelete, nil, OutcomeSuccess, "", ""); e != nil || err != nil {
		t.Errorf("nil writer should be a no-op, got %v, %v", e, err)
	}
}
