package validator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/compwatch/compwatch/internal/types"
)

// qualitySampleSize bounds how many source files one check reads. The
// sample keeps the check cheap on large workspaces.
const qualitySampleSize = 10

// CodeQualityValidator measures documentation coverage and project
// manifest presence across a sample of source files.
type CodeQualityValidator struct{}

// NewCodeQualityValidator creates the code_quality validator.
func NewCodeQualityValidator() *CodeQualityValidator {
	return &CodeQualityValidator{}
}

func (v *CodeQualityValidator) Category() types.Category {
	return types.CategoryCodeQuality
}

func (v *CodeQualityValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	sources, err := collectSourceFiles(ctx, target.WorkspacePath, qualitySampleSize)
	if err != nil {
		return nil, err
	}

	documented := 0
	for _, path := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if hasDocComments(string(content)) {
			documented++
		}
	}

	docCoverage := 100.0
	if len(sources) > 0 {
		docCoverage = float64(documented) / float64(len(sources)) * 100
		if docCoverage < 50 {
			score -= 20
			violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
				"low documentation coverage in sampled source files"))
		}
	}

	if matches, _ := filepath.Glob(filepath.Join(target.WorkspacePath, "README*")); len(matches) == 0 {
		score -= 10
		violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
			"no README file found"))
	}

	if !hasManifest(target.WorkspacePath) {
		score -= 10
		violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
			"no module manifest found"))
	}

	details := map[string]interface{}{
		"sources_sampled":        len(sources),
		"documented_sources":     documented,
		"documentation_coverage": docCoverage,
	}
	return newResult(v.Category(), score, "code quality and documentation assessment", details, violations), nil
}

// collectSourceFiles gathers up to limit source files under root.
func collectSourceFiles(ctx context.Context, root string, limit int) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".go", ".py", ".js", ".ts", ".rs", ".java":
			sources = append(sources, path)
		}
		if len(sources) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// hasDocComments detects documentation in source content: comment lines
// or docstring markers near declarations.
func hasDocComments(content string) bool {
	return strings.Contains(content, "// ") ||
		strings.Contains(content, "/*") ||
		strings.Contains(content, `"""`) ||
		strings.Contains(content, "'''")
}

// hasManifest checks for a dependency manifest at the workspace root.
func hasManifest(root string) bool {
	manifests := []string{"go.mod", "package.json", "pyproject.toml", "requirements.txt", "Cargo.toml", "pom.xml"}
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(root, m)); err == nil {
			return true
		}
	}
	return false
}
