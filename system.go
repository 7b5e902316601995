package benchalot

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SystemControls is the scoped acquire/release contract for the
// `system` variance-reduction section (spec.md §5, §6): applied once
// before plan execution, reverted once after, regardless of outcome.
// Out of scope beyond this opaque pre/post-hook contract (spec.md §1)
// — the concrete commands below mirror the reference prototype's
// shell-outs (original_source/src/variance.py) rather than
// reimplementing CPU shielding or governor control natively.
type SystemControls struct {
	cfg     SystemConfig
	applied []string // control names successfully applied, for symmetric revert
}

// NewSystemControls returns a no-op SystemControls when the `system`
// section is absent.
func NewSystemControls(cfg SystemConfig) *SystemControls {
	return &SystemControls{cfg: cfg}
}

// Apply runs the configured variance-reduction hooks in a fixed
// order. The first failure aborts before any cell runs
// (SystemControlError, spec.md §5/§7); hooks already applied are
// reverted before returning.
func (s *SystemControls) Apply() error {
	if !s.cfg.Enabled {
		return nil
	}
	steps := []struct {
		name string
		run  func() error
	}{
		{"isolate-cpus", s.applyIsolateCPUs},
		{"disable-smt", s.applyDisableSMT},
		{"disable-aslr", s.applyDisableASLR},
		{"disable-core-boost", s.applyDisableCoreBoost},
		{"governor-performance", s.applyGovernorPerformance},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			_ = s.Revert()
			return &SystemControlError{Control: step.name, Err: err}
		}
		s.applied = append(s.applied, step.name)
	}
	return nil
}

// Revert undoes every applied control, in reverse order. Revert
// failure is reported but never changes the engine's exit code
// (spec.md §5).
func (s *SystemControls) Revert() error {
	var errs []string
	for i := len(s.applied) - 1; i >= 0; i-- {
		if err := s.revertOne(s.applied[i]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	s.applied = nil
	if len(errs) > 0 {
		return fmt.Errorf("reverting system controls: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *SystemControls) cpuList() string {
	parts := make([]string, len(s.cfg.IsolateCPUs))
	for i, c := range s.cfg.IsolateCPUs {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return strings.Join(parts, ",")
}

func (s *SystemControls) applyIsolateCPUs() error {
	if len(s.cfg.IsolateCPUs) == 0 {
		return nil
	}
	return runShell(fmt.Sprintf("cset shield --cpu=%s --kthread=on", s.cpuList()))
}

func (s *SystemControls) applyDisableSMT() error {
	if !s.cfg.DisableSMT {
		return nil
	}
	return writeSysfs("/sys/devices/system/cpu/smt/control", "off")
}

func (s *SystemControls) applyDisableASLR() error {
	if !s.cfg.DisableASLR {
		return nil
	}
	return writeSysfs("/proc/sys/kernel/randomize_va_space", "0")
}

func (s *SystemControls) applyDisableCoreBoost() error {
	if !s.cfg.DisableCoreBoost {
		return nil
	}
	return runShell("cpupower set --turbo-boost 0")
}

func (s *SystemControls) applyGovernorPerformance() error {
	if !s.cfg.GovernorPerformance {
		return nil
	}
	cmd := "cpupower frequency-set --governor performance"
	if len(s.cfg.IsolateCPUs) > 0 {
		cmd = fmt.Sprintf("cpupower --cpu %s frequency-set --governor performance", s.cpuList())
	}
	return runShell(cmd)
}

func (s *SystemControls) revertOne(name string) error {
	switch name {
	case "isolate-cpus":
		return runShell("cset shield --reset")
	case "disable-smt":
		return writeSysfs("/sys/devices/system/cpu/smt/control", "on")
	case "disable-aslr":
		return writeSysfs("/proc/sys/kernel/randomize_va_space", "2")
	case "disable-core-boost":
		return runShell("cpupower set --turbo-boost 1")
	case "governor-performance":
		return runShell("cpupower frequency-set --governor ondemand")
	}
	return nil
}

func runShell(command string) error {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}
