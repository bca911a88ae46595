// Package audit provides PDR (Process Decision Record) writing for gapq.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/store"
)

// PDRWriter writes Process Decision Records for one queue namespace.
type PDRWriter struct {
	store     *store.Store
	namespace string
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store, namespace string) *PDRWriter {
	return &PDRWriter{store: s, namespace: namespace}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs any, outcome, gapID, details string) (*models.PDREntry, error) {
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(w.namespace, action, inputsHash, outcome, gapID, details)
}

// Tail returns the latest records of this writer's namespace, oldest first.
func (w *PDRWriter) Tail(limit int) ([]models.PDREntry, error) {
	return w.store.TailPDR(w.namespace, limit)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
