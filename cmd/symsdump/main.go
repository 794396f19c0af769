// symsdump prints what a PDB, DWARF or ELF file knows about a program.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"
)

var cfg struct {
	logLevel string
	format   string
	image    string
	demangle string
	rebase   uint64
	jobs     int
	module   int
	file     string
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(log.NewSyncWriter(consoleOutput))
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Inspect debug information in PDB, DWARF and ELF files.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("log.level", "Only log messages with the given severity or above.").Default("info").EnumVar(&cfg.logLevel, "debug", "info", "warn", "error")
	app.Flag("format", "Output format.").Short('o').Default("table").EnumVar(&cfg.format, "table", "json")
	app.Flag("image", "Executable the debug information belongs to.").ExistingFileVar(&cfg.image)
	app.Flag("demangle", "ELF symbol demangling: none, simplified, templates or full.").Default("full").StringVar(&cfg.demangle)
	app.Flag("rebase", "Load address added to every reported address.").Default("0").Uint64Var(&cfg.rebase)
	app.Flag("jobs", "Modules built in parallel.").Short('j').Default("4").IntVar(&cfg.jobs)

	fileArg := func(cmd *kingpin.CmdClause) *kingpin.CmdClause {
		cmd.Arg("file", "Debug information file.").Required().ExistingFileVar(&cfg.file)
		return cmd
	}
	moduleFlag := func(cmd *kingpin.CmdClause) *kingpin.CmdClause {
		cmd.Flag("module", "Only this module; -1 for all.").Short('m').Default("-1").IntVar(&cfg.module)
		return cmd
	}

	infoCmd := fileArg(app.Command("info", "Summarize the file."))
	streamsCmd := fileArg(app.Command("streams", "List the streams of a PDB container."))
	modulesCmd := fileArg(app.Command("modules", "List modules."))
	procsCmd := moduleFlag(fileArg(app.Command("procs", "List procedures.")))
	typesCmd := fileArg(app.Command("types", "List named types."))
	globalsCmd := fileArg(app.Command("globals", "List global variables and constants."))
	linesCmd := moduleFlag(fileArg(app.Command("lines", "Dump line tables.")))
	addr2lineCmd := fileArg(app.Command("addr2line", "Map addresses to procedures and source lines."))
	addrs := addr2lineCmd.Arg("addr", "Addresses, in hex with 0x prefix or decimal.").Required().Strings()
	src2addrCmd := fileArg(app.Command("src2addr", "Map a source position to an address."))
	position := src2addrCmd.Arg("position", "FILE:LINE").Required().String()
	localsCmd := fileArg(app.Command("locals", "List the variables visible at an address."))
	localsAddr := localsCmd.Arg("addr", "Address.").Required().String()
	regsCmd := app.Command("regs", "List the registers of an architecture.")
	regsArch := regsCmd.Arg("arch", "x86 or x64.").Required().String()

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	logger = level.NewFilter(logger, levelFilter(cfg.logLevel))

	var err error
	switch parsedCmd {
	case infoCmd.FullCommand():
		err = withInstance(info)
	case streamsCmd.FullCommand():
		err = streams(cfg.file)
	case modulesCmd.FullCommand():
		err = withInstance(modules)
	case procsCmd.FullCommand():
		err = withInstance(procs)
	case typesCmd.FullCommand():
		err = withInstance(types)
	case globalsCmd.FullCommand():
		err = withInstance(globals)
	case linesCmd.FullCommand():
		err = withInstance(lines)
	case addr2lineCmd.FullCommand():
		err = withInstance(addr2line(*addrs))
	case src2addrCmd.FullCommand():
		err = withInstance(src2addr(*position))
	case localsCmd.FullCommand():
		err = withInstance(locals(*localsAddr))
	case regsCmd.FullCommand():
		err = registers(*regsArch)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	os.Exit(checkError(err))
}

func levelFilter(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
