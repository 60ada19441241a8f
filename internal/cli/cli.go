// Package cli wires the command line: flag parsing, experiment loading
// and the subcommands that record, package and report profiles.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"github.com/tklauser/numcpus"
	"golang.org/x/sync/errgroup"

	"github.com/jitprof/jitprof/attribution"
	"github.com/jitprof/jitprof/capture"
	"github.com/jitprof/jitprof/experiment"
	"github.com/jitprof/jitprof/jvmtiasm"
	"github.com/jitprof/jitprof/perfscript"
	"github.com/jitprof/jitprof/report"
)

const envVarPrefix = "JITPROF"

type app struct {
	out     io.Writer
	verbose bool
}

func (a *app) commonFlags(fs *flag.FlagSet) {
	fs.BoolVar(&a.verbose, "v", false, "enable debug logging")
}

func (a *app) setup() {
	if a.verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// New builds the root command with all subcommands attached.
func New() *ffcli.Command {
	return newRoot(&app{out: os.Stdout})
}

func newRoot(a *app) *ffcli.Command {
	fs := flag.NewFlagSet("jitprof", flag.ContinueOnError)
	return &ffcli.Command{
		Name:       "jitprof",
		ShortUsage: "jitprof <subcommand> [flags]",
		ShortHelp:  "Correlate perf samples with JIT-compiled code.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Subcommands: []*ffcli.Command{
			newRecordCommand(a),
			newPackageCommand(a),
			newHotCommand(a),
			newAsmCommand(a),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// loadExperiment decodes the trace and the sample stream of an
// experiment.
func loadExperiment(files experiment.Files) (*jvmtiasm.Assembly, *perfscript.Output, error) {
	src, err := files.OpenAssembly()
	if err != nil {
		return nil, nil, err
	}
	asm, err := jvmtiasm.Decode(src)
	src.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding assembly trace: %w", err)
	}
	out, err := files.OpenPerfOutput()
	if err != nil {
		return nil, nil, err
	}
	samples, err := perfscript.Decode(out)
	out.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding perf output: %w", err)
	}
	return asm, samples, nil
}

type recordCmd struct {
	app        *app
	experiment string
	agent      string
	overwrite  bool
	script     bool
	dumpHot    bool
	dumpLevel  int
	dumpLimit  int
	freq       int
	event      string
	vmArgs     stringList
}

func newRecordCommand(a *app) *ffcli.Command {
	c := &recordCmd{app: a}
	fs := flag.NewFlagSet("jitprof record", flag.ContinueOnError)
	fs.StringVar(&c.experiment, "E", "", "directory to store the experiment data files in")
	fs.StringVar(&c.agent, "agent", "", "path to the JVMTI assembly tracing agent")
	fs.BoolVar(&c.overwrite, "O", false, "overwrite an existing experiment directory")
	fs.BoolVar(&c.script, "script", false, "print the capture commands instead of running them")
	fs.BoolVar(&c.dumpHot, "D", false, "rerun the program with compiler dumps enabled for the hottest methods")
	fs.IntVar(&c.dumpLevel, "dump-level", 1, "compiler dump level for -D")
	fs.IntVar(&c.dumpLimit, "L", 5, "number of hot methods to dump with -D")
	fs.IntVar(&c.freq, "freq", 0, "perf sampling frequency")
	fs.StringVar(&c.event, "event", "", "perf event to sample")
	fs.Var(&c.vmArgs, "vm-arg", "extra JVM argument, repeatable")
	a.commonFlags(fs)
	return &ffcli.Command{
		Name:       "record",
		ShortUsage: "jitprof record -E <dir> [flags] <command> [args ...]",
		ShortHelp:  "Capture the profile of a Java program.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Exec:       c.exec,
	}
}

func (c *recordCmd) exec(ctx context.Context, args []string) error {
	c.app.setup()
	if len(args) == 0 {
		return fmt.Errorf("record: no command to profile")
	}
	if c.experiment == "" {
		c.experiment = capture.DefaultExperimentName()
		log.Infof("recording into %s", c.experiment)
	}
	files, err := experiment.CreateFlatFiles(c.experiment, c.overwrite)
	if err != nil {
		return err
	}
	cfg := &capture.Config{
		AgentPath:      c.agent,
		Frequency:      c.freq,
		Event:          c.event,
		MonotonicClock: !capture.Supported() || capture.MonotonicClockSupported(),
		ExtraVMArgs:    c.vmArgs,
	}
	if c.script {
		fmt.Fprintln(c.app.out, strings.Join(capture.CaptureCommand(files, args[0], args[1:], cfg), " "))
		fmt.Fprintf(c.app.out, "%s > %s\n",
			strings.Join(capture.ConvertCommand(files, cfg), " "), files.PerfOutputPath())
		return nil
	}
	if !capture.Supported() {
		return fmt.Errorf("record: linux perf is unsupported on this platform")
	}

	sess := capture.NewSession(files, cfg)
	if err := sess.Run(ctx, args[0], args[1:]); err != nil {
		return err
	}
	if err := sess.Convert(ctx); err != nil {
		return err
	}
	if !c.dumpHot {
		return nil
	}

	asm, samples, err := loadExperiment(files)
	if err != nil {
		return err
	}
	if _, err := attribution.Attribute(asm, samples, attribution.Options{}); err != nil {
		return err
	}
	filters := capture.MethodFilters(asm, c.dumpLimit)
	return sess.DumpHot(ctx, args[0], args[1:], filters, c.dumpLevel)
}

type packageCmd struct {
	app        *app
	experiment string
}

func newPackageCommand(a *app) *ffcli.Command {
	c := &packageCmd{app: a}
	fs := flag.NewFlagSet("jitprof package", flag.ContinueOnError)
	fs.StringVar(&c.experiment, "E", "", "experiment directory to package")
	a.commonFlags(fs)
	return &ffcli.Command{
		Name:       "package",
		ShortUsage: "jitprof package [-E <dir>] [dir ...]",
		ShortHelp:  "Package experiment directories into archives.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Exec:       c.exec,
	}
}

func (c *packageCmd) exec(ctx context.Context, args []string) error {
	c.app.setup()
	dirs := args
	if c.experiment != "" {
		dirs = append([]string{c.experiment}, args...)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("package: no experiment directories given")
	}
	g, ctx := errgroup.WithContext(ctx)
	if n, err := numcpus.GetOnline(); err == nil {
		g.SetLimit(n)
	}
	names := make([]string, len(dirs))
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			name, err := packageOne(ctx, dir)
			names[i] = name
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintf(c.app.out, "Created %s\n", name)
	}
	return nil
}

func packageOne(ctx context.Context, dir string) (string, error) {
	files, err := experiment.NewFlatFiles(dir)
	if err != nil {
		return "", err
	}
	// A directory fresh from a recording may still hold only the binary
	// perf data. Convert it now so the archive is usable anywhere, even
	// on machines without perf.
	if !files.HasPerfOutput() && files.HasPerfBinary() {
		if !capture.Supported() {
			return "", fmt.Errorf("package: %s needs perf to convert its recording", dir)
		}
		if err := capture.Convert(ctx, files, &capture.Config{}); err != nil {
			return "", err
		}
	}
	return files.Package("")
}

type hotCmd struct {
	app        *app
	experiment string
	limit      int
	context    int
	tolerance  int
	rawBytes   bool
}

func newHotCommand(a *app) *ffcli.Command {
	c := &hotCmd{app: a}
	fs := flag.NewFlagSet("jitprof hot", flag.ContinueOnError)
	fs.StringVar(&c.experiment, "E", "", "experiment directory or archive")
	fs.IntVar(&c.limit, "n", report.DefaultLimit, "show the top n entries")
	fs.IntVar(&c.context, "c", 0, "instructions of context around hot ones")
	fs.IntVar(&c.tolerance, "tolerance", 0, "unattributed events to accept before warning")
	fs.BoolVar(&c.rawBytes, "raw-bytes", false, "include raw instruction bytes in listings")
	a.commonFlags(fs)
	return &ffcli.Command{
		Name:       "hot",
		ShortUsage: "jitprof hot -E <experiment> [flags]",
		ShortHelp:  "Show the hottest methods and their annotated disassembly.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Exec:       c.exec,
	}
}

func (c *hotCmd) exec(ctx context.Context, args []string) error {
	c.app.setup()
	if c.experiment == "" {
		return fmt.Errorf("hot: -E <experiment> is required")
	}
	files, err := experiment.Open(c.experiment)
	if err != nil {
		return err
	}
	defer files.Close()
	asm, samples, err := loadExperiment(files)
	if err != nil {
		return err
	}
	summary, err := attribution.Attribute(asm, samples, attribution.Options{MissingTolerance: c.tolerance})
	if err != nil {
		return err
	}
	log.Debugf("attributed %d events, %d missing, %d unknown",
		summary.Attributed, summary.Missing, summary.Unknown)
	return report.PrintHot(c.app.out, asm, samples, &report.Options{
		Limit:    c.limit,
		Context:  c.context,
		HexBytes: c.rawBytes,
	})
}

type asmCmd struct {
	app        *app
	experiment string
	rawBytes   bool
}

func newAsmCommand(a *app) *ffcli.Command {
	c := &asmCmd{app: a}
	fs := flag.NewFlagSet("jitprof asm", flag.ContinueOnError)
	fs.StringVar(&c.experiment, "E", "", "experiment directory or archive")
	fs.BoolVar(&c.rawBytes, "raw-bytes", false, "include raw instruction bytes in listings")
	a.commonFlags(fs)
	return &ffcli.Command{
		Name:       "asm",
		ShortUsage: "jitprof asm -E <experiment> [flags]",
		ShortHelp:  "Dump the disassembly of all generated code.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)},
		Exec:       c.exec,
	}
}

func (c *asmCmd) exec(ctx context.Context, args []string) error {
	c.app.setup()
	if c.experiment == "" {
		return fmt.Errorf("asm: -E <experiment> is required")
	}
	files, err := experiment.Open(c.experiment)
	if err != nil {
		return err
	}
	defer files.Close()
	src, err := files.OpenAssembly()
	if err != nil {
		return err
	}
	asm, err := jvmtiasm.Decode(src)
	src.Close()
	if err != nil {
		return fmt.Errorf("decoding assembly trace: %w", err)
	}
	return report.PrintAssembly(c.app.out, asm, &report.Options{HexBytes: c.rawBytes})
}
