package benchalot_test

import (
	"testing"

	"github.com/benchalot/benchalot"
	"gopkg.in/yaml.v3"
)

func mustParseConfig(t *testing.T, doc string) *benchalot.RawConfig {
	t.Helper()
	var raw benchalot.RawConfig
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return &raw
}

func TestValidate_SamplesDefaultAndCheck(t *testing.T) {
	t.Run("defaults to 1", func(t *testing.T) {
		raw := mustParseConfig(t, "benchmark:\n  - echo hi\n")
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if cfg.Samples != 1 {
			t.Errorf("got samples %d, want 1", cfg.Samples)
		}
	})

	t.Run("rejects non-positive", func(t *testing.T) {
		raw := mustParseConfig(t, "samples: 0\nbenchmark:\n  - echo hi\n")
		if _, err := raw.Validate(); err == nil {
			t.Error("expected error for samples: 0")
		}
	})
}

func TestValidate_MatrixRecordFieldConsistency(t *testing.T) {
	raw := mustParseConfig(t, `
matrix:
  host:
    - {cpu: amd64, cores: 8}
    - {cpu: arm64}
benchmark:
  - echo hi
`)
	if _, err := raw.Validate(); err == nil {
		t.Error("expected error for mismatched record fields")
	}
}

func TestValidate_ExcludeIncludeUndeclaredVariable(t *testing.T) {
	raw := mustParseConfig(t, `
matrix:
  compiler: [gcc, clang]
exclude:
  - os: linux
benchmark:
  - echo hi
`)
	if _, err := raw.Validate(); err == nil {
		t.Error("expected error for exclude referencing undeclared variable")
	}
}

func TestValidate_Metrics(t *testing.T) {
	t.Run("defaults to time", func(t *testing.T) {
		raw := mustParseConfig(t, "benchmark:\n  - echo hi\n")
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(cfg.Metrics) != 1 || cfg.Metrics[0] != benchalot.MetricTime {
			t.Errorf("got %v, want [time]", cfg.Metrics)
		}
	})

	t.Run("deduplicates", func(t *testing.T) {
		raw := mustParseConfig(t, "metrics: [time, time, rss]\nbenchmark:\n  - echo hi\n")
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(cfg.Metrics) != 2 {
			t.Errorf("got %v, want 2 distinct metrics", cfg.Metrics)
		}
	})

	t.Run("rejects unrecognized metric", func(t *testing.T) {
		raw := mustParseConfig(t, "metrics: [bogus]\nbenchmark:\n  - echo hi\n")
		if _, err := raw.Validate(); err == nil {
			t.Error("expected error for unrecognized metric")
		}
	})
}

func TestValidate_BenchmarkForms(t *testing.T) {
	t.Run("implicit list", func(t *testing.T) {
		raw := mustParseConfig(t, "benchmark:\n  - echo one\n  - echo two\n")
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if cfg.Benchmark.IsExplicit() {
			t.Error("expected implicit form")
		}
		if len(cfg.Benchmark.Implicit) != 2 {
			t.Errorf("got %d commands, want 2", len(cfg.Benchmark.Implicit))
		}
	})

	t.Run("named stages", func(t *testing.T) {
		raw := mustParseConfig(t, "benchmark:\n  compile:\n    - make\n  run:\n    - ./a.out\n")
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !cfg.Benchmark.IsExplicit() {
			t.Error("expected explicit form")
		}
		if len(cfg.Benchmark.Named) != 2 {
			t.Errorf("got %d stages, want 2", len(cfg.Benchmark.Named))
		}
	})

	t.Run("missing benchmark and custom-metrics is an error", func(t *testing.T) {
		raw := mustParseConfig(t, "samples: 1\n")
		if _, err := raw.Validate(); err == nil {
			t.Error("expected error when neither benchmark nor custom-metrics is present")
		}
	})

	t.Run("custom-metrics alone is sufficient", func(t *testing.T) {
		raw := mustParseConfig(t, "custom-metrics:\n  - throughput: echo 1\n")
		if _, err := raw.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

func TestValidate_ExplicitStagesRejectStdoutStderr(t *testing.T) {
	raw := mustParseConfig(t, `
metrics: [stdout]
benchmark:
  compile:
    - make
`)
	if _, err := raw.Validate(); err == nil {
		t.Error("expected error combining explicit stages with stdout metric")
	}
}

func TestValidate_CustomMetricsShape(t *testing.T) {
	raw := mustParseConfig(t, `
custom-metrics:
  - throughput: echo 1
    latency: echo 2
`)
	if _, err := raw.Validate(); err == nil {
		t.Error("expected error for multi-entry custom-metrics mapping")
	}
}

func TestValidate_Results(t *testing.T) {
	t.Run("unrecognized format", func(t *testing.T) {
		raw := mustParseConfig(t, `
benchmark:
  - echo hi
results:
  out:
    format: xml
    filename: out.xml
`)
		if _, err := raw.Validate(); err == nil {
			t.Error("expected error for unrecognized format")
		}
	})

	t.Run("missing filename", func(t *testing.T) {
		raw := mustParseConfig(t, `
benchmark:
  - echo hi
results:
  out:
    format: csv
    filename: ""
`)
		if _, err := raw.Validate(); err == nil {
			t.Error("expected error for empty filename")
		}
	})

	t.Run("accepted block carries options through", func(t *testing.T) {
		raw := mustParseConfig(t, `
benchmark:
  - echo hi
results:
  out:
    format: csv
    filename: out.csv
    overwrite: true
`)
		cfg, err := raw.Validate()
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		block := cfg.Results["out"]
		if block.Options["overwrite"] != true {
			t.Errorf("got options %v, want overwrite: true", block.Options)
		}
	})
}
