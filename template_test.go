package benchalot_test

import (
	"errors"
	"testing"

	"github.com/benchalot/benchalot"
)

func TestExpandTemplate(t *testing.T) {
	t.Run("scalar substitution", func(t *testing.T) {
		bindings := benchalot.Bindings{"compiler": benchalot.Binding{Value: "gcc"}}
		got, err := benchalot.ExpandTemplate("{{compiler}} -O2", bindings)
		if err != nil {
			t.Fatalf("ExpandTemplate: %v", err)
		}
		if got != "gcc -O2" {
			t.Errorf("got %q, want %q", got, "gcc -O2")
		}
	})

	t.Run("compound field access", func(t *testing.T) {
		bindings := benchalot.Bindings{
			"host": benchalot.Binding{Fields: map[string]benchalot.Scalar{"cpu": "amd64", "cores": float64(8)}},
		}
		got, err := benchalot.ExpandTemplate("{{host.cpu}}-{{host.cores}}", bindings)
		if err != nil {
			t.Fatalf("ExpandTemplate: %v", err)
		}
		if got != "amd64-8" {
			t.Errorf("got %q, want %q", got, "amd64-8")
		}
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := benchalot.ExpandTemplate("{{missing}}", benchalot.Bindings{})
		var unknown *benchalot.UnknownVariable
		if !errors.As(err, &unknown) {
			t.Fatalf("expected *UnknownVariable, got %v", err)
		}
		if unknown.Name != "missing" {
			t.Errorf("got name %q, want %q", unknown.Name, "missing")
		}
	})

	t.Run("bare name on compound binding", func(t *testing.T) {
		bindings := benchalot.Bindings{"host": benchalot.Binding{Fields: map[string]benchalot.Scalar{"cpu": "amd64"}}}
		_, err := benchalot.ExpandTemplate("{{host}}", bindings)
		var bad *benchalot.BadFieldAccess
		if !errors.As(err, &bad) {
			t.Fatalf("expected *BadFieldAccess, got %v", err)
		}
	})

	t.Run("field access on scalar binding", func(t *testing.T) {
		bindings := benchalot.Bindings{"compiler": benchalot.Binding{Value: "gcc"}}
		_, err := benchalot.ExpandTemplate("{{compiler.name}}", bindings)
		var bad *benchalot.BadFieldAccess
		if !errors.As(err, &bad) {
			t.Fatalf("expected *BadFieldAccess, got %v", err)
		}
	})

	t.Run("unknown field on compound binding", func(t *testing.T) {
		bindings := benchalot.Bindings{"host": benchalot.Binding{Fields: map[string]benchalot.Scalar{"cpu": "amd64"}}}
		_, err := benchalot.ExpandTemplate("{{host.missing}}", bindings)
		var bad *benchalot.BadFieldAccess
		if !errors.As(err, &bad) {
			t.Fatalf("expected *BadFieldAccess, got %v", err)
		}
		if bad.Field != "missing" {
			t.Errorf("got field %q, want %q", bad.Field, "missing")
		}
	})

	t.Run("no placeholders is a no-op", func(t *testing.T) {
		got, err := benchalot.ExpandTemplate("echo hello", benchalot.Bindings{})
		if err != nil {
			t.Fatalf("ExpandTemplate: %v", err)
		}
		if got != "echo hello" {
			t.Errorf("got %q", got)
		}
	})
}

func TestExpandAll(t *testing.T) {
	bindings := benchalot.Bindings{"n": benchalot.Binding{Value: float64(3)}}
	got, err := benchalot.ExpandAll([]string{"echo {{n}}", "echo done"}, bindings)
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	want := []string{"echo 3", "echo done"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := benchalot.ExpandAll([]string{"{{missing}}"}, bindings); err == nil {
		t.Error("expected error for unknown variable")
	}
}

func TestTemplateVariables(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"no placeholders", "results.csv", nil},
		{"single scalar var", "results-{{compiler}}.csv", []string{"compiler"}},
		{"compound field", "results-{{host.cpu}}.csv", []string{"host.cpu"}},
		{"repeated var dedups", "{{compiler}}-{{compiler}}.csv", []string{"compiler"}},
		{"multiple distinct vars, first-occurrence order", "{{b}}-{{a}}-{{b}}.csv", []string{"b", "a"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := benchalot.TemplateVariables(c.pattern)
			if len(got) != len(c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
			for i := range c.want {
				if got[i] != c.want[i] {
					t.Errorf("index %d: got %q, want %q", i, got[i], c.want[i])
				}
			}
		})
	}
}
