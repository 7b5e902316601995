package benchalot_test

import (
	"testing"

	"github.com/benchalot/benchalot"
)

func TestSystemControls_DisabledIsANoOp(t *testing.T) {
	controls := benchalot.NewSystemControls(benchalot.SystemConfig{})
	if err := controls.Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := controls.Revert(); err != nil {
		t.Fatalf("Revert: %v", err)
	}
}
