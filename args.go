package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Args are the resolved command line arguments.
type Args struct {
	BindAddress string
	ServerName  string

	ConfigFile string
	ListenFD   int
	SID        string
}

// getArgs parses the command line. The primary surface is positional:
// "<program> <bind-address> <server-name>". -conf/-listen-fd/-sid remain as
// optional flags for compatibility with process supervisors that pass a
// pre-opened listening socket across a restart.
func getArgs() *Args {
	configFile := flag.String("conf", "", "Configuration file (optional, overrides listen/server-name parsing).")
	fd := flag.Int(
		"listen-fd",
		-1,
		"File descriptor with listening port to use (optional).",
	)
	sid := flag.String(
		"sid",
		"",
		"SID. Overrides ts6-sid from config.",
	)

	flag.Parse()

	args := flag.Args()

	a := &Args{ListenFD: *fd, SID: *sid}

	if len(*configFile) > 0 {
		configPath, err := filepath.Abs(*configFile)
		if err != nil {
			printUsage(fmt.Errorf("unable to determine path to the configuration file: %s", err))
			return nil
		}
		a.ConfigFile = configPath
	}

	if len(args) >= 2 {
		a.BindAddress = args[0]
		a.ServerName = args[1]
		return a
	}

	if len(a.ConfigFile) == 0 {
		printUsage(fmt.Errorf("you must provide either <bind-address> <server-name> or -conf"))
		return nil
	}

	return a
}

func printUsage(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s <bind-address> <server-name>\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "   or: %s -conf <file> [-listen-fd N] [-sid SID]\n", os.Args[0])
	flag.PrintDefaults()
}
