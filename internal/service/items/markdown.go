package items

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// DefaultTransferDir is the directory, relative to the workspace, that
// markdown export writes to and import reads from.
const DefaultTransferDir = "conport_export"

// DecisionLogFile is the markdown file holding exported decisions.
const DecisionLogFile = "decisions.md"

// exportDecisionLimit caps the decisions written by one export.
const exportDecisionLimit = 1000

const (
	markTimestamp = "**Timestamp:**"
	markRationale = "**Rationale:**"
	markDetails   = "**Implementation Details:**"
	markTags      = "**Tags:**"
)

// ExportResult reports what ExportMarkdown wrote.
type ExportResult struct {
	Path         string   `json:"path"`
	FilesCreated []string `json:"files_created"`
	Decisions    int      `json:"decisions_exported"`
}

// ImportResult reports what ImportMarkdown read.
type ImportResult struct {
	Path     string `json:"path"`
	Imported int    `json:"decisions_imported"`
	Skipped  int    `json:"skipped"`
}

// transferDir resolves dir inside the workspace. Absolute paths and paths
// escaping the workspace are rejected.
func transferDir(ws *workspace.Workspace, dir string) (string, error) {
	if dir == "" {
		dir = DefaultTransferDir
	}
	if !filepath.IsLocal(dir) {
		return "", invalidf("path %q must be relative to the workspace and stay inside it", dir)
	}
	return filepath.Join(ws.Path(), dir), nil
}

// ExportMarkdown writes the decision log of the workspace, oldest first, to
// dir/decisions.md. dir is relative to the workspace and defaults to
// DefaultTransferDir. With no decisions, no file is written.
func (s *Service) ExportMarkdown(ctx context.Context, workspaceID, dir string) (ExportResult, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return ExportResult{}, err
	}
	out, err := transferDir(ws, dir)
	if err != nil {
		return ExportResult{}, err
	}
	decs, err := ws.DB().ListDecisions(ctx, model.DecisionFilter{Limit: exportDecisionLimit})
	if err != nil {
		return ExportResult{}, err
	}

	res := ExportResult{Path: out, FilesCreated: []string{}}
	if err := os.MkdirAll(out, 0o750); err != nil {
		return ExportResult{}, fmt.Errorf("items: export: %w", err)
	}
	if len(decs) == 0 {
		return res, nil
	}
	slices.Reverse(decs)

	var b bytes.Buffer
	writeDecisionLog(&b, decs)
	if err := os.WriteFile(filepath.Join(out, DecisionLogFile), b.Bytes(), 0o644); err != nil { //nolint:gosec // exported notes are meant to be read
		return ExportResult{}, fmt.Errorf("items: export: %w", err)
	}
	res.FilesCreated = append(res.FilesCreated, DecisionLogFile)
	res.Decisions = len(decs)
	s.logger.Info("items: decisions exported", "workspace", ws.Path(), "path", out, "count", len(decs))
	return res, nil
}

// ImportMarkdown logs every decision found in dir/decisions.md. Entries
// without a summary are skipped. Imported decisions get new IDs and
// timestamps.
func (s *Service) ImportMarkdown(ctx context.Context, workspaceID, dir string) (ImportResult, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return ImportResult{}, err
	}
	in, err := transferDir(ws, dir)
	if err != nil {
		return ImportResult{}, err
	}
	path := filepath.Join(in, DecisionLogFile)
	f, err := os.Open(path) //nolint:gosec // path is confined to the workspace
	if errors.Is(err, fs.ErrNotExist) {
		return ImportResult{}, fmt.Errorf("items: import %s: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("items: import: %w", err)
	}
	defer f.Close()

	decs, skipped, err := parseDecisionLog(f)
	if err != nil {
		return ImportResult{}, fmt.Errorf("items: import %s: %w", path, err)
	}

	res := ImportResult{Path: in, Skipped: skipped}
	for _, d := range decs {
		if _, err := s.LogDecision(ctx, workspaceID, d); err != nil {
			if errors.Is(err, ErrInvalidInput) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Imported++
	}
	s.logger.Info("items: decisions imported", "workspace", ws.Path(), "path", in, "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

func writeDecisionLog(w io.Writer, decs []model.Decision) {
	fmt.Fprint(w, "# Decision Log\n\n")
	for _, d := range decs {
		fmt.Fprintf(w, "## %s\n\n", d.Summary)
		fmt.Fprintf(w, "%s %s\n\n", markTimestamp, d.Timestamp.UTC().Format(time.RFC3339))
		if d.Rationale != "" {
			fmt.Fprintf(w, "%s\n%s\n\n", markRationale, d.Rationale)
		}
		if d.ImplementationDetails != "" {
			fmt.Fprintf(w, "%s\n%s\n\n", markDetails, d.ImplementationDetails)
		}
		if len(d.Tags) > 0 {
			fmt.Fprintf(w, "%s %s\n\n", markTags, strings.Join(d.Tags, ", "))
		}
		fmt.Fprint(w, "---\n\n")
	}
}

// parseDecisionLog reads the format written by writeDecisionLog. Each entry
// starts at a "## " heading and ends at a "---" line or the next heading.
// It returns the entries with a summary and the number without one.
func parseDecisionLog(r io.Reader) ([]model.Decision, int, error) {
	var (
		out     []model.Decision
		skipped int
		cur     *model.Decision
		section *strings.Builder
		details strings.Builder
		reason  strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Rationale = strings.TrimSpace(reason.String())
		cur.ImplementationDetails = strings.TrimSpace(details.String())
		if cur.Summary == "" {
			skipped++
		} else {
			out = append(out, *cur)
		}
		cur, section = nil, nil
		reason.Reset()
		details.Reset()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case line == "##" || strings.HasPrefix(line, "## "):
			flush()
			cur = &model.Decision{Summary: strings.TrimSpace(strings.TrimPrefix(line, "##"))}
		case cur == nil:
			// Title and anything outside an entry.
		case trimmed == "---":
			flush()
		case strings.HasPrefix(trimmed, markTimestamp):
			section = nil
		case trimmed == markRationale:
			section = &reason
		case trimmed == markDetails:
			section = &details
		case strings.HasPrefix(trimmed, markTags):
			section = nil
			for _, tag := range strings.Split(strings.TrimPrefix(trimmed, markTags), ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					cur.Tags = append(cur.Tags, tag)
				}
			}
		case section != nil:
			section.WriteString(line)
			section.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	flush()
	return out, skipped, nil
}
