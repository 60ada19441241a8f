// Package capture runs a Java program under Linux perf with the JVMTI
// assembly tracing agent attached, producing the experiment artifacts the
// analysis pipeline consumes.
package capture

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jitprof/jitprof/experiment"
)

const (
	defaultPerf      = "perf"
	defaultFrequency = 1000
	defaultEvent     = "cycles"
)

// Config shapes the perf and JVM sides of a capture.
type Config struct {
	AgentPath      string // JVMTI tracing agent shared object
	PerfPath       string // perf executable; empty means "perf" from PATH
	Frequency      int    // samples per second; 0 means 1000
	Event          string // perf event to sample; empty means "cycles"
	MonotonicClock bool   // pass -k 1 so samples share the agent's clock
	ExtraVMArgs    []string
}

func (c *Config) perf() string {
	if c.PerfPath == "" {
		return defaultPerf
	}
	return c.PerfPath
}

func (c *Config) frequency() int {
	if c.Frequency <= 0 {
		return defaultFrequency
	}
	return c.Frequency
}

func (c *Config) event() string {
	if c.Event == "" {
		return defaultEvent
	}
	return c.Event
}

// PerfExecutable locates the perf tool.
func PerfExecutable() (string, error) {
	return exec.LookPath(defaultPerf)
}

// Supported reports whether Linux perf is available at all.
func Supported() bool {
	_, err := PerfExecutable()
	return err == nil
}

// VMArgs returns the JVM flags that attach the tracing agent and keep
// debug info exact enough for per-instruction attribution.
func VMArgs(agentPath, asmPath string, extra ...string) []string {
	args := []string{
		fmt.Sprintf("-agentpath:%s=%s", agentPath, asmPath),
		"-XX:+UnlockDiagnosticVMOptions",
		"-XX:+DebugNonSafepoints",
	}
	return append(args, extra...)
}

// PerfRecordCommand builds the perf invocation that samples the target.
func PerfRecordCommand(perfBinaryPath string, cfg *Config) []string {
	cmd := []string{cfg.perf(), "record"}
	if cfg.MonotonicClock {
		cmd = append(cmd, "-k", "1")
	}
	return append(cmd,
		"--freq", strconv.Itoa(cfg.frequency()),
		"--event", cfg.event(),
		"--output", perfBinaryPath)
}

// CaptureCommand composes the full command line: perf record wrapping the
// java command, with the agent flags injected between the java executable
// and the program's own arguments.
func CaptureCommand(files *experiment.FlatFiles, javaCmd string, javaArgs []string, cfg *Config) []string {
	full := PerfRecordCommand(files.PerfBinaryPath(), cfg)
	full = append(full, javaCmd)
	full = append(full, VMArgs(cfg.AgentPath, files.AssemblyPath(), cfg.ExtraVMArgs...)...)
	return append(full, javaArgs...)
}

// ConvertCommand builds the perf script invocation that renders the
// recording as one sample per line.
func ConvertCommand(files *experiment.FlatFiles, cfg *Config) []string {
	return []string{cfg.perf(), "script",
		"--fields", "time,event,ip,sym,dso,period",
		"-i", files.PerfBinaryPath()}
}

// DumpArgs builds the compiler flags for a rerun that dumps graphs for
// the hottest methods into dir.
func DumpArgs(level int, methodFilters []string, dir string) []string {
	return []string{
		fmt.Sprintf("-Dgraal.Dump=:%d", level),
		"-Dgraal.MethodFilter=" + strings.Join(methodFilters, ","),
		"-Dgraal.DumpPath=" + dir,
	}
}
