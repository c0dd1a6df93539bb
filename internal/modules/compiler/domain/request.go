package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CompileRequest describes one template compilation.
type CompileRequest struct {
	SourceFile      string
	SourceRoot      string
	DestinationRoot string
	Imports         Imports
	Format          TemplateFormat
}

func (r CompileRequest) Validate() error {
	if r.SourceFile == "" {
		return fmt.Errorf("source file is required")
	}
	if r.SourceRoot == "" {
		return fmt.Errorf("source root is required")
	}
	if r.DestinationRoot == "" {
		return fmt.Errorf("destination root is required")
	}
	if err := r.Imports.Validate(); err != nil {
		return err
	}
	if _, err := r.RelativeSource(); err != nil {
		return err
	}
	if !r.Format.IsZero() {
		return r.Format.Validate()
	}
	return nil
}

// RelativeSource returns the source file path relative to the source root.
func (r CompileRequest) RelativeSource() (string, error) {
	root := filepath.Clean(r.SourceRoot)
	file := filepath.Clean(r.SourceFile)
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("%w: %s not under %s", ErrSourceOutsideRoot, r.SourceFile, r.SourceRoot)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s not under %s", ErrSourceOutsideRoot, r.SourceFile, r.SourceRoot)
	}
	return rel, nil
}

type CompileResult struct {
	InvocationID string
	Version      string
	Coordinate   string
	SourceFile   string
	Output       string
	Changed      bool
	Duration     time.Duration
}

type LedgerStatus string

const (
	LedgerStatusOK     LedgerStatus = "ok"
	LedgerStatusFailed LedgerStatus = "failed"
)

// LedgerEntry is one recorded compile invocation.
type LedgerEntry struct {
	ID         string
	Version    string
	Coordinate string
	SourceFile string
	Output     string
	Format     string
	Imports    string
	Status     LedgerStatus
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}
