package validator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/compwatch/compwatch/internal/types"
)

// SecurityValidator measures the permission posture of sensitive files,
// scans for backup artifacts left inside the workspace, and verifies the
// authentication environment and storage integrity.
type SecurityValidator struct{}

// NewSecurityValidator creates the security validator.
func NewSecurityValidator() *SecurityValidator {
	return &SecurityValidator{}
}

func (v *SecurityValidator) Category() types.Category {
	return types.CategorySecurity
}

func (v *SecurityValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	filesChecked := 0
	for _, path := range target.SensitiveFiles {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		filesChecked++
		if info.Mode().Perm()&0o004 != 0 {
			score -= 15
			violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionManual,
				fmt.Sprintf("insecure permissions on %s: world-readable", path)))
		}
	}

	backupCount, err := countForbiddenArtifacts(ctx, target.WorkspacePath)
	if err != nil {
		return nil, err
	}
	if backupCount > 0 {
		score -= 20
		violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionAutomatic,
			fmt.Sprintf("backup artifacts in workspace: %d files", backupCount)))
	}

	authVar := target.AuthEnvVar
	if authVar == "" {
		authVar = DefaultAuthEnvVar
	}
	if os.Getenv(authVar) == "" {
		score -= 10
		violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionManual,
			fmt.Sprintf("missing authentication environment variable %s", authVar)))
	}

	if target.Store != nil {
		if err := target.Store.CheckIntegrity(ctx); err != nil {
			score -= 25
			violations = append(violations, newViolation(v.Category(), types.SeverityCritical, types.CorrectionEscalation,
				fmt.Sprintf("storage integrity check failed: %v", err)))
		}
	}

	details := map[string]interface{}{
		"files_checked":        filesChecked,
		"backup_artifacts":     backupCount,
		"auth_check_complete":  true,
		"integrity_check_done": target.Store != nil,
	}
	return newResult(v.Category(), score, "security posture and protection assessment", details, violations), nil
}

// countForbiddenArtifacts walks the workspace counting backup-like files
// and directories. The walk honors ctx so a timed-out check aborts early.
func countForbiddenArtifacts(ctx context.Context, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if MatchesForbiddenPattern(d.Name()) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
