package benchalot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RawConfig is the YAML-decoded shape of a configuration file,
// before validation and default application (spec.md §6). Field
// types intentionally stay close to YAML's own dynamic shapes;
// Validate() turns this into the closed, validated model the rest of
// the engine consumes.
type RawConfig struct {
	Matrix        RawMatrix              `yaml:"matrix"`
	Exclude       []map[string]RawScalar `yaml:"exclude"`
	Include       []map[string]RawScalar `yaml:"include"`
	Samples       *int                   `yaml:"samples"`
	Setup         []string               `yaml:"setup"`
	Prepare       []string               `yaml:"prepare"`
	Benchmark     yaml.Node              `yaml:"benchmark"`
	Conclude      []string               `yaml:"conclude"`
	Cleanup       []string               `yaml:"cleanup"`
	CustomMetrics []map[string]string    `yaml:"custom-metrics"`
	Metrics       []string               `yaml:"metrics"`
	Cwd           string                 `yaml:"cwd"`
	Env           map[string]string      `yaml:"env"`
	SaveOutput    string                 `yaml:"save-output"`
	System        *RawSystem             `yaml:"system"`
	Results       map[string]RawResult   `yaml:"results"`
}

// RawScalar is a dynamically-typed YAML leaf value (string, number,
// or bool).
type RawScalar = interface{}

// RawMatrixVariable is one declared matrix variable, keeping its
// position within the `matrix` mapping.
type RawMatrixVariable struct {
	Name   string
	Values RawVarValues
}

// RawMatrix is the `matrix` section, decoded in declaration order
// rather than as a Go map: spec.md §4.3/GLOSSARY defines the
// Cartesian product's iteration order as "lexicographic over variable
// insertion order" (the last declared variable varies fastest), which
// a map can't preserve.
type RawMatrix []RawMatrixVariable

// UnmarshalYAML walks the mapping's key/value node pairs directly
// (the same technique decodeBenchmark uses for the stage-map form of
// `benchmark`) instead of decoding into a map, so declaration order
// survives.
func (m *RawMatrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == 0 {
		*m = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping of variable name to value list")
	}
	out := make(RawMatrix, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var values RawVarValues
		if err := node.Content[i+1].Decode(&values); err != nil {
			return err
		}
		out = append(out, RawMatrixVariable{Name: name, Values: values})
	}
	*m = out
	return nil
}

// MarshalYAML re-encodes the matrix as a mapping node with the same
// key order it was decoded with, so `--split` round-trips a narrowed
// Config without reshuffling variable declaration order.
func (m RawMatrix) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, v := range m {
		var keyNode, valueNode yaml.Node
		if err := keyNode.Encode(v.Name); err != nil {
			return nil, err
		}
		if err := valueNode.Encode(v.Values); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &keyNode, &valueNode)
	}
	return node, nil
}

// Find returns the declared values for name and whether it was
// declared at all.
func (m RawMatrix) Find(name string) (RawVarValues, bool) {
	for _, v := range m {
		if v.Name == name {
			return v.Values, true
		}
	}
	return RawVarValues{}, false
}

// RawVarValues is a matrix variable's declared value list: either a
// list of scalars, or a list of compound records sharing field names
// (spec.md §4.2).
type RawVarValues struct {
	Scalars []RawScalar
	Records []map[string]RawScalar
}

// UnmarshalYAML distinguishes a scalar list from a record list by
// inspecting the first element's YAML kind.
func (v *RawVarValues) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("matrix variable must be a list, got %v", node.Kind)
	}
	if len(node.Content) == 0 {
		return fmt.Errorf("matrix variable must not be empty")
	}
	if node.Content[0].Kind == yaml.MappingNode {
		records := make([]map[string]RawScalar, 0, len(node.Content))
		for _, item := range node.Content {
			var rec map[string]RawScalar
			if err := item.Decode(&rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		v.Records = records
		return nil
	}
	scalars := make([]RawScalar, 0, len(node.Content))
	for _, item := range node.Content {
		var s RawScalar
		if err := item.Decode(&s); err != nil {
			return err
		}
		scalars = append(scalars, s)
	}
	v.Scalars = scalars
	return nil
}

// MarshalYAML re-encodes a RawVarValues as the plain scalar or record
// list it was decoded from, so `--split` can re-serialize a narrowed
// Config back into valid Benchalot YAML (spec.md §6 `--split`).
func (v RawVarValues) MarshalYAML() (interface{}, error) {
	if v.Records != nil {
		return v.Records, nil
	}
	return v.Scalars, nil
}

// RawSystem is the `system` section: variance-reduction controls
// applied once before plan execution and reverted once after
// (spec.md §5, §6).
type RawSystem struct {
	IsolateCPUs         []int `yaml:"isolate-cpus"`
	DisableASLR         bool  `yaml:"disable-aslr"`
	DisableSMT          bool  `yaml:"disable-smt"`
	DisableCoreBoost    bool  `yaml:"disable-core-boost"`
	GovernorPerformance bool  `yaml:"governor-performance"`
}

// RawResult is one `results` block entry: a renderer format plus its
// format-specific options, kept as a generic map so the Output
// Driver can dispatch on Format without every renderer's option set
// living in this struct (spec.md §6, §9 design note: results[*] is
// "tagged by format").
type RawResult struct {
	Format   string                 `yaml:"format"`
	Filename string                 `yaml:"filename"`
	Options  map[string]interface{} `yaml:",inline"`
}

// LoadConfig reads and YAML-decodes the configuration file at path.
func LoadConfig(path string) (*RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Required: true, Err: err}
	}
	var cfg RawConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("", "failed to parse YAML: %v", err)
	}
	return &cfg, nil
}
