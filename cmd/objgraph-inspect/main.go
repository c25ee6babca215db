// objgraph-inspect prints the contents of an object graph store without
// needing the Go types that wrote it: the store header, the persisted type
// dictionary, entity headers and the graph reachable from the root.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/andreyvit/objgraph"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		dbPath   string
		dirPath  string
		types    bool
		entities bool
		fields   bool
		root     bool
		all      bool
		verbose  bool
	)
	flagSet := pflag.NewFlagSet("objgraph-inspect", pflag.ContinueOnError)
	flagSet.StringVar(&dbPath, "db", "", "path to a Bolt store file")
	flagSet.StringVar(&dirPath, "dir", "", "path to a directory store")
	flagSet.BoolVar(&types, "types", false, "print the type dictionary")
	flagSet.BoolVar(&entities, "entities", false, "print entity headers")
	flagSet.BoolVar(&fields, "fields", false, "print decoded member values (implies --entities)")
	flagSet.BoolVar(&root, "root", false, "summarize the graph reachable from the root")
	flagSet.BoolVarP(&all, "all", "a", false, "print everything")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log store activity to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backend, err := openBackend(dbPath, dirPath, logger, verbose)
	if err != nil {
		return err
	}
	defer backend.Close()

	wc := &objgraph.SwitchableWriteController{}
	wc.Disable()
	store, err := objgraph.OpenStore(backend, objgraph.NewTypeTable(objgraph.TypeTableOptions{Logger: logger}), objgraph.StoreOptions{
		WriteController: wc,
		Logger:          logger,
		Verbose:         verbose,
	})
	if err != nil {
		return err
	}

	flags := objgraph.DumpHeader
	if all {
		flags = objgraph.DumpAll
	}
	if types {
		flags |= objgraph.DumpTypes
	}
	if entities {
		flags |= objgraph.DumpEntities
	}
	if fields {
		flags |= objgraph.DumpEntities | objgraph.DumpFields
	}
	if root {
		flags |= objgraph.DumpRoot
	}
	out, err := store.Dump(flags)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func openBackend(dbPath, dirPath string, logger *slog.Logger, verbose bool) (objgraph.Backend, error) {
	switch {
	case dbPath != "" && dirPath != "":
		return nil, errors.New("--db and --dir are mutually exclusive")
	case dbPath != "":
		if _, err := os.Stat(dbPath); err != nil {
			return nil, err
		}
		return objgraph.NewBoltBackend(dbPath, objgraph.BoltOptions{ReadOnly: true, Timeout: 5 * time.Second})
	case dirPath != "":
		if _, err := os.Stat(dirPath); err != nil {
			return nil, err
		}
		return objgraph.NewDirBackend(dirPath, objgraph.DirOptions{Logger: logger, Verbose: verbose})
	default:
		return nil, errors.New("either --db or --dir is required")
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `objgraph-inspect prints the raw contents of an object graph store.

Usage:
  objgraph-inspect --db path.bolt [--types] [--entities] [--fields] [--root]
  objgraph-inspect --dir path/ --all

Flags:
%s`, flagSet.FlagUsages())
}
