package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evolang/evo/internal/astc"
	"github.com/evolang/evo/internal/config"
	"github.com/evolang/evo/internal/engine"
	"github.com/evolang/evo/internal/module"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]

	switch command {
	case "run":
		cmdRun(args[1:])
	case "build":
		cmdBuild(args[1:])
	case "exec":
		cmdExec(args[1:])
	case "inspect":
		cmdInspect(args[1:])
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("evo toolchain v%s\n\n", engine.Version)
	fmt.Println("Usage:")
	fmt.Println("  evo <command> [options] [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <file.astc>       interpret a bytecode program")
	fmt.Println("  build <file.astc>     compile bytecode to a native module")
	fmt.Println("  exec <file.natv>      load a native module and call an export")
	fmt.Println("  inspect <file>        describe an .astc or .natv file")
	fmt.Println("  version               print version")
	fmt.Println("  help                  print this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  evo run main%s\n", astc.FileExtension)
	fmt.Printf("  evo build -o main%s main%s\n", module.FileExtension, astc.FileExtension)
	fmt.Printf("  evo exec -func main main%s\n", module.FileExtension)
}

// loadEngine 按配置文件构造引擎
func loadEngine(startPath string) (*engine.Engine, *config.Config) {
	cfgPath := config.Find(startPath)
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			fatal(err)
		}
	} else {
		cfg = config.Default()
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		fatal(err)
	}

	e, err := engine.New(cfg, log)
	if err != nil {
		fatal(err)
	}
	return e, cfg
}

// newLogger 按配置级别构造日志器
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "evo: %v\n", err)
	os.Exit(1)
}

// cmdRun 解释执行 .astc 程序
func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	showStats := fs.Bool("stats", false, "print execution statistics")

	fs.Usage = func() {
		fmt.Println("Usage: evo run [options] <file.astc>")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	filename := fs.Arg(0)
	e, _ := loadEngine(filename)
	defer e.Close()

	res, err := e.InterpretFile(filename)
	if err != nil {
		fatal(err)
	}
	if *showStats {
		fmt.Fprintf(os.Stderr, "instructions: %d  cycles: %d\n", res.Instructions, res.Cycles)
	}
	os.Exit(res.ExitCode)
}

// cmdBuild 编译 .astc 到 .natv
func cmdBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: source name with "+module.FileExtension+")")

	fs.Usage = func() {
		fmt.Println("Usage: evo build [options] <file.astc>")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	filename := fs.Arg(0)
	e, _ := loadEngine(filename)
	defer e.Close()

	out, err := e.BuildFile(filename, *output)
	if err != nil {
		fatal(err)
	}
	fmt.Println(out)
}

// cmdExec 装载 .natv 并调用导出函数
func cmdExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	funcName := fs.String("func", "main", "export to call")

	fs.Usage = func() {
		fmt.Println("Usage: evo exec [options] <file.natv> [args...]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	filename := fs.Arg(0)
	var callArgs []int64
	for _, raw := range fs.Args()[1:] {
		var v int64
		if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
			fatal(fmt.Errorf("bad argument %q: %w", raw, err))
		}
		callArgs = append(callArgs, v)
	}

	e, _ := loadEngine(filename)
	defer e.Close()

	result, err := e.ExecFile(filename, *funcName, callArgs...)
	if err != nil {
		fatal(err)
	}
	fmt.Println(result)
}

// cmdInspect 描述 .astc / .natv 文件
func cmdInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Println("Usage: evo inspect <file>")
		os.Exit(1)
	}

	filename := fs.Arg(0)
	data, err := os.ReadFile(filename)
	if err != nil {
		fatal(err)
	}

	switch {
	case module.IsNative(data):
		inspectNative(filename, data)
	default:
		inspectContainer(filename, data)
	}
}

func inspectNative(filename string, data []byte) {
	m, err := module.Parse(data)
	if err != nil {
		fatal(err)
	}
	status := "ok"
	if err := m.Validate(); err != nil {
		status = err.Error()
	}

	fmt.Printf("%s: native module (NATV v%d)\n", filename, m.Version)
	fmt.Printf("  arch:      %s\n", m.Arch)
	fmt.Printf("  code:      %d bytes\n", len(m.Code))
	fmt.Printf("  data:      %d bytes\n", len(m.Data))
	fmt.Printf("  relocs:    %d\n", len(m.Relocs))
	fmt.Printf("  checksum:  %s\n", status)
	if m.Meta != nil {
		fmt.Printf("  name:      %s\n", m.Meta.Name)
		fmt.Printf("  toolchain: %s\n", m.Meta.Toolchain)
		fmt.Printf("  src hash:  %016x\n", m.Meta.SourceHash)
	}
	fmt.Printf("  exports:   %d\n", len(m.Exports))
	for _, ex := range m.Exports {
		kind := "func"
		if ex.Type == module.ExportVariable {
			kind = "var"
		}
		fmt.Printf("    %-8s %s  offset=%d size=%d arity=%d\n",
			kind, ex.Name, ex.Offset, ex.Size, ex.Arity())
	}
}

func inspectContainer(filename string, data []byte) {
	c, err := astc.ParseContainer(data)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s: bytecode container (ASTC v%d)\n", filename, c.Version)
	fmt.Printf("  entry:    %d\n", c.Entry)
	fmt.Printf("  source:   %d bytes\n", len(c.Source))
	fmt.Printf("  bytecode: %d bytes\n", len(c.Bytecode))
}

func cmdVersion() {
	fmt.Printf("evo version %s\n", engine.Version)
}
