// Package audit provides PDR (Process Decision Record) writing for qgate.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/qgate/internal/models"
)

// Actions recorded by the backup manager.
const (
	ActionBackupCreate  = "backup.create"
	ActionBackupApprove = "backup.approve"
	ActionBackupDismiss = "backup.dismiss"
	ActionBackupRestore = "backup.restore"
	ActionBackupDelete  = "backup.delete"
	ActionBackupCleanup = "backup.cleanup"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Sink persists decision records.
type Sink interface {
	WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action. A nil writer is a no-op.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error) {
	if w == nil || w.sink == nil {
		return nil, nil
	}
	inputsHash := HashInputs(inputs)
	return w.sink.WritePDR(action, inputsHash, outcome, subject, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
