package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

var (
	// ErrEmptyScope is returned when the export scope is empty.
	ErrEmptyScope = errors.New("audit: scope must not be empty")
	// ErrLogNotConfigured is returned when export is invoked without a backing log.
	ErrLogNotConfigured = errors.New("audit: event log not configured (fail-closed)")
	// ErrChainBroken is returned when the scope's hash chain fails verification.
	ErrChainBroken = errors.New("audit: hash chain verification failed")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	Scope string `json:"scope"`
	After uint64 `json:"after,omitempty"`
}

// EvidencePack describes the exported bundle.
type EvidencePack struct {
	Scope       string           `json:"scope"`
	GeneratedAt time.Time        `json:"generated_at"`
	Checksum    string           `json:"checksum"`
	ChainHead   string           `json:"chain_head"`
	Entries     []eventlog.Entry `json:"entries"`
}

// Exporter builds downloadable evidence packs from a scope's event trail.
type Exporter struct {
	log *eventlog.Log
}

func NewExporter(log *eventlog.Log) *Exporter {
	return &Exporter{log: log}
}

// GeneratePack creates a zip containing the scope's event trail and a
// manifest carrying the chain head. The chain is verified first so a
// tampered log is never exported.
func (e *Exporter) GeneratePack(_ context.Context, req ExportRequest) ([]byte, string, error) {
	if req.Scope == "" {
		return nil, "", ErrEmptyScope
	}
	if e.log == nil {
		return nil, "", ErrLogNotConfigured
	}

	if ok, broken := e.log.Verify(req.Scope); !ok {
		return nil, "", fmt.Errorf("%w: scope %s at %s", ErrChainBroken, req.Scope, broken)
	}
	entries := e.log.Entries(req.Scope, req.After)

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]interface{}{
		"scope":        req.Scope,
		"generated_at": time.Now().UTC(),
		"entry_count":  len(entries),
		"chain_head":   e.log.Head(req.Scope),
		"after":        req.After,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "GEvidence event trail for scope %s\nGenerated at %s\n", req.Scope, time.Now().UTC())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	checksum := hex.EncodeToString(hash[:])

	return zipBytes, checksum, nil
}
