// shelf is the command line tool of the shelf object store.
//
// Commands:
//
//	check    runs deletion scenarios against the in-process store
//	inspect  prints objects which are persisted according to the journal
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/outofforest/shelf/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("command is required")
	}

	switch args[0] {
	case "check":
		return check(args[1:], stdout, stderr)
	case "inspect":
		return inspect(args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return errors.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: shelf <command> [flags]

Commands:
  check    run deletion scenarios against the in-process store
  inspect  print objects persisted according to the journal
`)
}

// loadConfig reads configuration from --config or SHELF_CONFIG and applies flag overrides.
func loadConfig(flagSet *pflag.FlagSet, path string, memoryLimit *config.Size, journal string) (config.Config, error) {
	var cfg config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return config.Config{}, err
	}

	if flagSet.Changed("memory-limit") {
		cfg.MemoryLimit = *memoryLimit
	}
	if flagSet.Changed("journal") {
		cfg.Journal.Path = journal
	}
	return cfg, cfg.Validate()
}

func parseFlags(flagSet *pflag.FlagSet, args []string) (bool, error) {
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(args); err != nil {
		return false, errors.WithStack(err)
	}
	help, _ := flagSet.GetBool("help")
	return help, nil
}
