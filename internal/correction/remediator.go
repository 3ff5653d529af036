package correction

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/compwatch/compwatch/internal/types"
)

// WorkspaceRemediator performs the built-in automatic fixes against the
// monitored workspace: restoring missing directories and removing
// backup artifacts. Anything it does not recognize fails, which routes
// the violation toward escalation.
type WorkspaceRemediator struct {
	root string
	// forbidden marks file and directory names eligible for cleanup.
	forbidden func(name string) bool
}

// NewWorkspaceRemediator creates a remediator rooted at the workspace.
func NewWorkspaceRemediator(root string, forbidden func(name string) bool) *WorkspaceRemediator {
	if forbidden == nil {
		forbidden = func(string) bool { return false }
	}
	return &WorkspaceRemediator{root: root, forbidden: forbidden}
}

func (r *WorkspaceRemediator) Remediate(ctx context.Context, violation types.Violation) (string, error) {
	description := strings.ToLower(violation.Description)

	switch {
	case strings.Contains(description, "missing directories"):
		return r.restoreDirectories(violation.Description)
	case strings.Contains(description, "missing directory"):
		return r.restoreDirectory(violation.Description)
	case strings.Contains(description, "backup artifact"):
		return r.removeBackupArtifacts(ctx)
	}
	return "", fmt.Errorf("no automatic remediation for: %s", violation.Description)
}

// restoreDirectory recreates one missing directory named in the
// violation, e.g. "missing directory: logs".
func (r *WorkspaceRemediator) restoreDirectory(description string) (string, error) {
	_, name, found := strings.Cut(description, ": ")
	if !found || name == "" {
		return "", fmt.Errorf("cannot determine directory from: %s", description)
	}
	return r.mkdir(strings.TrimSpace(name))
}

// restoreDirectories recreates a bracketed list of missing directories,
// e.g. "missing directories: [logs docs]".
func (r *WorkspaceRemediator) restoreDirectories(description string) (string, error) {
	_, list, found := strings.Cut(description, ": ")
	if !found {
		return "", fmt.Errorf("cannot determine directories from: %s", description)
	}
	list = strings.Trim(strings.TrimSpace(list), "[]")
	var restored []string
	for _, name := range strings.Fields(list) {
		if _, err := r.mkdir(name); err != nil {
			return "", err
		}
		restored = append(restored, name)
	}
	if len(restored) == 0 {
		return "", fmt.Errorf("no directories named in: %s", description)
	}
	return fmt.Sprintf("created directories: %v", restored), nil
}

func (r *WorkspaceRemediator) mkdir(name string) (string, error) {
	path := filepath.Join(r.root, name)
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("directory %q escapes the workspace", name)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", name, err)
	}
	return "created directory: " + name, nil
}

// removeBackupArtifacts deletes backup-like files from the workspace.
// Directories are left alone; removing a directory tree is too
// destructive for an unattended fix.
func (r *WorkspaceRemediator) removeBackupArtifacts(ctx context.Context) (string, error) {
	removed := 0
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !r.forbidden(d.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return "", err
	}
	if removed == 0 {
		return "no removable backup artifacts found", nil
	}
	return fmt.Sprintf("removed %d backup artifacts", removed), nil
}
