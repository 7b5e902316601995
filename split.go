package benchalot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Split implements `--split VAR` (spec.md §6): one partial
// configuration document per declared value of VAR, each containing
// only the matrix slice where VAR is pinned to that value, written to
// out/<configbase>.part<N>.yml. New in the Go port; original_source/
// has no equivalent CLI flag (SPEC_FULL.md "Plan splitting").
func Split(raw *RawConfig, variable, configPath string) ([]string, error) {
	values, ok := raw.Matrix.Find(variable)
	if !ok {
		return nil, configErrorf("split", "matrix variable %q is not declared", variable)
	}
	n := values.Len()
	if n == 0 {
		return nil, configErrorf("split", "matrix variable %q has no declared values", variable)
	}

	if err := os.MkdirAll("out", 0755); err != nil {
		return nil, &IOError{Path: "out", Required: true, Err: err}
	}

	base := configBase(configPath)
	var written []string
	for i := 0; i < n; i++ {
		part := pinVariable(raw, variable, i)
		data, err := yaml.Marshal(part)
		if err != nil {
			return nil, err
		}
		path := filepath.Join("out", fmt.Sprintf("%s.part%d.yml", base, i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, &IOError{Path: path, Required: true, Err: err}
		}
		written = append(written, path)
	}
	return written, nil
}

func configBase(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Len reports how many values a RawVarValues declares.
func (v RawVarValues) Len() int {
	if v.Records != nil {
		return len(v.Records)
	}
	return len(v.Scalars)
}

// pinVariable returns a shallow copy of raw whose matrix[variable]
// list has been narrowed to its i'th value only, preserving
// declaration order; every other variable is shared unchanged.
func pinVariable(raw *RawConfig, variable string, i int) *RawConfig {
	out := *raw
	narrowed := make(RawMatrix, len(raw.Matrix))
	for idx, entry := range raw.Matrix {
		if entry.Name != variable {
			narrowed[idx] = entry
			continue
		}
		values := entry.Values
		if values.Records != nil {
			values = RawVarValues{Records: values.Records[i : i+1]}
		} else {
			values = RawVarValues{Scalars: values.Scalars[i : i+1]}
		}
		narrowed[idx] = RawMatrixVariable{Name: entry.Name, Values: values}
	}
	out.Matrix = narrowed
	return &out
}
