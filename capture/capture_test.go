package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitprof/jitprof/experiment"
	"github.com/jitprof/jitprof/jvmtiasm"
)

func TestVMArgs(t *testing.T) {
	args := VMArgs("/opt/agent.so", "trace.bin")
	assert.Equal(t, []string{
		"-agentpath:/opt/agent.so=trace.bin",
		"-XX:+UnlockDiagnosticVMOptions",
		"-XX:+DebugNonSafepoints",
	}, args)

	args = VMArgs("/opt/agent.so", "trace.bin", "-Xmx4g")
	assert.Equal(t, "-Xmx4g", args[len(args)-1])
}

func TestPerfRecordCommandDefaults(t *testing.T) {
	cmd := PerfRecordCommand("perf.data", &Config{})
	assert.Equal(t, []string{
		"perf", "record",
		"--freq", "1000",
		"--event", "cycles",
		"--output", "perf.data",
	}, cmd)
}

func TestPerfRecordCommandMonotonicClock(t *testing.T) {
	cmd := PerfRecordCommand("perf.data", &Config{MonotonicClock: true})
	assert.Equal(t, []string{
		"perf", "record", "-k", "1",
		"--freq", "1000",
		"--event", "cycles",
		"--output", "perf.data",
	}, cmd)
}

func TestPerfRecordCommandOverrides(t *testing.T) {
	cfg := &Config{PerfPath: "/usr/bin/perf", Frequency: 99, Event: "instructions"}
	cmd := PerfRecordCommand("out.data", cfg)
	assert.Equal(t, []string{
		"/usr/bin/perf", "record",
		"--freq", "99",
		"--event", "instructions",
		"--output", "out.data",
	}, cmd)
}

func TestCaptureCommand(t *testing.T) {
	files := experiment.NewLooseFiles("trace.bin", "perf.data")
	cfg := &Config{AgentPath: "/opt/agent.so", ExtraVMArgs: []string{"-Xmx1g"}}
	cmd := CaptureCommand(files, "java", []string{"-jar", "app.jar", "bench"}, cfg)
	assert.Equal(t, []string{
		"perf", "record",
		"--freq", "1000",
		"--event", "cycles",
		"--output", "perf.data",
		"java",
		"-agentpath:/opt/agent.so=trace.bin",
		"-XX:+UnlockDiagnosticVMOptions",
		"-XX:+DebugNonSafepoints",
		"-Xmx1g",
		"-jar", "app.jar", "bench",
	}, cmd)
}

func TestConvertCommand(t *testing.T) {
	files := experiment.NewLooseFiles("trace.bin", "perf.data")
	cmd := ConvertCommand(files, &Config{})
	assert.Equal(t, []string{
		"perf", "script",
		"--fields", "time,event,ip,sym,dso,period",
		"-i", "perf.data",
	}, cmd)
}

func TestDumpArgs(t *testing.T) {
	args := DumpArgs(3, []string{"a.B.c", "d.E.f"}, "/tmp/dump")
	assert.Equal(t, []string{
		"-Dgraal.Dump=:3",
		"-Dgraal.MethodFilter=a.B.c,d.E.f",
		"-Dgraal.DumpPath=/tmp/dump",
	}, args)
}

func filterRegion(name string, base uint64, period int64, methods ...*jvmtiasm.Method) *jvmtiasm.CompiledCodeInfo {
	return &jvmtiasm.CompiledCodeInfo{
		Name:        name,
		Base:        base,
		Code:        make([]byte, 0x10),
		LoadTime:    1,
		Methods:     methods,
		TotalPeriod: period,
	}
}

func TestMethodFilters(t *testing.T) {
	asm := &jvmtiasm.Assembly{}

	hot := filterRegion("java.lang.String.indexOf(int)", 0x1000, 900, &jvmtiasm.Method{
		ClassName:  "java.lang.String",
		MethodName: "indexOf",
		Arguments:  "int",
		ReturnType: "int",
	})
	warm := filterRegion("java.lang.Math.min(int, int)", 0x2000, 400, &jvmtiasm.Method{
		ClassName:  "java.lang.Math",
		MethodName: "min",
		Arguments:  "int, int",
		ReturnType: "int",
	})
	cold := filterRegion("java.util.List.size()", 0x3000, 0, &jvmtiasm.Method{
		ClassName:  "java.util.List",
		MethodName: "size",
		ReturnType: "int",
	})
	stub := filterRegion("call_stub", 0x4000, 5000)
	stub.IsStub = true

	asm.Add(warm)
	asm.Add(hot)
	asm.Add(cold)
	asm.Add(stub)

	filters := MethodFilters(asm, 5)
	require.Equal(t, []string{"java.lang.String.indexOf", "java.lang.Math.min"}, filters)

	filters = MethodFilters(asm, 1)
	assert.Equal(t, []string{"java.lang.String.indexOf"}, filters)

	filters = MethodFilters(asm, 0)
	assert.Len(t, filters, 2, "non-positive limit falls back to the default")
}

func TestMethodFiltersEmpty(t *testing.T) {
	asm := &jvmtiasm.Assembly{}
	assert.Empty(t, MethodFilters(asm, 5))
}

func TestNewSession(t *testing.T) {
	files := experiment.NewLooseFiles("", "")
	a := NewSession(files, &Config{})
	b := NewSession(files, &Config{})
	require.NotNil(t, a.Files)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDefaultExperimentName(t *testing.T) {
	a := DefaultExperimentName()
	b := DefaultExperimentName()
	assert.True(t, strings.HasPrefix(a, "jitprof-"))
	assert.NotEqual(t, a, b)
}
