package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioNotFoundError is returned when a named scenario file doesn't exist.
type ScenarioNotFoundError struct {
	ScenarioPath string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario file %q does not exist (resolved to: %s)", e.ScenarioPath, e.ResolvedPath)
}

// Discover expands paths into scenario files. A directory contributes its
// *.yaml and *.yml files in name order; a file is taken as is. Relative
// paths are resolved against baseDir.
func Discover(paths []string, baseDir string) ([]string, error) {
	var out []string
	for _, p := range paths {
		resolved := p
		if !filepath.IsAbs(resolved) && baseDir != "" {
			resolved = filepath.Join(baseDir, resolved)
		}

		info, err := os.Stat(resolved)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{ScenarioPath: p, ResolvedPath: resolved}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, resolved)
			continue
		}

		var found []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(resolved, pattern))
			if err != nil {
				return nil, err
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// SuiteResult is the result of one scenario file in a suite.
type SuiteResult struct {
	Path   string  `json:"path"`
	Name   string  `json:"name,omitempty"`
	Result *Result `json:"result,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// Passed reports whether the scenario loaded, ran and passed.
func (r SuiteResult) Passed() bool {
	return r.Err == "" && r.Result != nil && r.Result.Pass
}

// RunSuite loads and runs every scenario file. A file that fails to load or
// run is reported in its SuiteResult; the remaining files still run.
func RunSuite(ctx context.Context, files []string) []SuiteResult {
	results := make([]SuiteResult, 0, len(files))
	for _, f := range files {
		sr := SuiteResult{Path: f}
		s, err := LoadScenario(f)
		if err != nil {
			sr.Err = err.Error()
			results = append(results, sr)
			continue
		}
		sr.Name = s.Name
		res, err := RunContext(ctx, s)
		if err != nil {
			sr.Err = err.Error()
		}
		sr.Result = res
		results = append(results, sr)
	}
	return results
}
