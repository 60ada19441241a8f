package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jitprof/jitprof/experiment"
	"github.com/jitprof/jitprof/jvmtiasm"
)

// Session is one capture run: a fresh experiment, the perf recording and
// its conversion to text.
type Session struct {
	ID     uuid.UUID
	Files  *experiment.FlatFiles
	Config *Config
}

// NewSession binds a capture configuration to an experiment directory.
func NewSession(files *experiment.FlatFiles, cfg *Config) *Session {
	return &Session{ID: uuid.New(), Files: files, Config: cfg}
}

// DefaultExperimentName builds a fresh experiment directory name from the
// current time and a short random id, for runs that did not name one.
func DefaultExperimentName() string {
	return fmt.Sprintf("jitprof-%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}

// Run records the target program under perf. A non-zero exit from the
// wrapped program is tolerated, whatever perf managed to record is still
// usable. A missing recording afterwards is not.
func (s *Session) Run(ctx context.Context, javaCmd string, javaArgs []string) error {
	argv := CaptureCommand(s.Files, javaCmd, javaArgs, s.Config)
	return s.runRecording(ctx, argv)
}

// RunWithVMArgs is Run with extra JVM flags appended after the agent
// flags, ahead of the program arguments.
func (s *Session) RunWithVMArgs(ctx context.Context, javaCmd string, vmArgs, javaArgs []string) error {
	argv := PerfRecordCommand(s.Files.PerfBinaryPath(), s.Config)
	argv = append(argv, javaCmd)
	argv = append(argv, VMArgs(s.Config.AgentPath, s.Files.AssemblyPath(), s.Config.ExtraVMArgs...)...)
	argv = append(argv, vmArgs...)
	argv = append(argv, javaArgs...)
	return s.runRecording(ctx, argv)
}

func (s *Session) runRecording(ctx context.Context, argv []string) error {
	log.Infof("capture %s: %s", s.ID, strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("running %s: %w", argv[0], err)
		}
		log.Warnf("capture command exited with %v, continuing with partial recording", exitErr)
	}
	if !s.Files.HasPerfBinary() {
		return fmt.Errorf("perf produced no recording at %s", s.Files.PerfBinaryPath())
	}
	return nil
}

// Convert renders the binary perf recording as text and stores it as the
// experiment's perf output member.
func (s *Session) Convert(ctx context.Context) error {
	return Convert(ctx, s.Files, s.Config)
}

// Convert runs perf script over an experiment's recording and stores the
// textual sample stream as its perf output member.
func Convert(ctx context.Context, files *experiment.FlatFiles, cfg *Config) error {
	argv := ConvertCommand(files, cfg)
	out, err := files.CreatePerfOutput()
	if err != nil {
		return err
	}
	log.Debugf("convert: %s", strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()
	if closeErr := out.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return fmt.Errorf("converting perf recording: %w", runErr)
	}
	return nil
}

// MethodFilters returns compiler method filters for the hottest compiled
// regions, at most limit entries. Stubs and regions without samples carry
// no methods worth dumping and are skipped.
func MethodFilters(asm *jvmtiasm.Assembly, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	top := asm.TopRegions(func(c *jvmtiasm.CompiledCodeInfo) bool {
		return !c.IsStub && c.TotalPeriod > 0 && len(c.Methods) > 0
	})
	var filters []string
	for _, region := range top {
		if len(filters) == limit {
			break
		}
		filters = append(filters, region.Methods[0].QualifiedName())
	}
	return filters
}

// DumpHot reruns the program with graph dumping enabled for the hottest
// methods of a previous recording. The rerun overwrites the experiment's
// recording, so the dump reflects the same workload that was profiled.
func (s *Session) DumpHot(ctx context.Context, javaCmd string, javaArgs []string, filters []string, level int) error {
	if len(filters) == 0 {
		return errors.New("no hot compiled methods to dump")
	}
	if level <= 0 {
		level = 1
	}
	dumpDir, err := s.Files.CreateDumpDir()
	if err != nil {
		return err
	}
	argv := PerfRecordCommand(s.Files.PerfBinaryPath(), s.Config)
	argv = append(argv, javaCmd)
	argv = append(argv, VMArgs(s.Config.AgentPath, s.Files.AssemblyPath(), s.Config.ExtraVMArgs...)...)
	argv = append(argv, DumpArgs(level, filters, dumpDir)...)
	argv = append(argv, javaArgs...)
	log.Infof("capture %s: %s", s.ID, strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dump rerun failed: %w", err)
	}
	return s.Convert(ctx)
}
