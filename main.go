package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	args := getArgs()
	if args == nil {
		os.Exit(1)
	}

	cfg, err := resolveConfig(args)
	if err != nil {
		log.Fatalf("Unable to determine configuration: %s", err)
	}

	cb, err := NewCatbox(cfg)
	if err != nil {
		log.Fatalf("Unable to start: %s", err)
	}

	ln, err := listen(args, cfg)
	if err != nil {
		log.Fatalf("Unable to listen: %s", err)
	}

	cb.WG.Add(1)
	go cb.acceptLoop(ln)

	stdinLines := make(chan string)
	go scanStdin(stdinLines)
	go cb.readStdinCommands(stdinLines)

	go handleSignals(cb, args)

	cb.run()

	cb.WG.Wait()
}

// resolveConfig builds a Config either from a config file (-conf) or from
// the positional "<bind-address> <server-name>" surface, applying sane
// defaults for everything the positional surface does not ask the operator
// to specify.
func resolveConfig(args *Args) (*Config, error) {
	var cfg *Config
	var err error

	if len(args.ConfigFile) > 0 {
		cfg, err = loadConfig(args.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = defaultConfig()
	}

	if len(args.BindAddress) > 0 {
		host, port, err := net.SplitHostPort(args.BindAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid bind address %q: %s", args.BindAddress, err)
		}
		cfg.ListenHost = host
		cfg.ListenPort = port
	}

	if len(args.ServerName) > 0 {
		cfg.ServerName = args.ServerName
	}

	if len(args.SID) > 0 {
		cfg.TS6SID = args.SID
	}

	if len(cfg.ServerName) == 0 {
		return nil, fmt.Errorf("no server name given")
	}

	return cfg, nil
}

// defaultConfig returns reasonable ambient-stack defaults for running
// entirely off the positional "<bind-address> <server-name>" CLI surface,
// without a config file.
func defaultConfig() *Config {
	return &Config{
		ServerInfo:    "catbox IRC server",
		Version:       "catbox-ircd",
		CreatedDate:   time.Now().Format(time.RFC1123),
		MOTD:          "Welcome.",
		MaxNickLength: 30,
		WakeupTime:    10 * time.Second,
		PingTime:      90 * time.Second,
		DeadTime:      180 * time.Second,
		Opers:         map[string]string{},
		Servers:       map[string]LinkInfo{},
		TS6SID:        "8ZZ",
	}
}

// listen opens the listening socket, either freshly or by adopting an
// inherited file descriptor (-listen-fd), per the external interface in
// section 6.
func listen(args *Args, cfg *Config) (net.Listener, error) {
	if args.ListenFD >= 0 {
		f := os.NewFile(uintptr(args.ListenFD), "listener")
		return net.FileListener(f)
	}

	addr := net.JoinHostPort(cfg.ListenHost, cfg.ListenPort)
	return net.Listen("tcp", addr)
}

// scanStdin feeds complete lines from stdin to lines, for the CONNECT
// surface described in section 6. It closes lines on EOF.
func scanStdin(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// handleSignals reloads configuration on SIGHUP and shuts down cleanly on
// SIGTERM/SIGINT.
func handleSignals(cb *Catbox, args *Args) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			if len(args.ConfigFile) == 0 {
				log.Printf("Ignoring SIGHUP: not running from a config file")
				continue
			}
			newCfg, err := loadConfig(args.ConfigFile)
			if err != nil {
				log.Printf("Error reloading configuration: %s", err)
				continue
			}
			newCfg.ServerName = cb.Config.ServerName
			newCfg.TS6SID = cb.Config.TS6SID
			cb.Config = newCfg
			log.Printf("Reloaded configuration")

		case syscall.SIGTERM, syscall.SIGINT:
			cb.newEvent(Event{Type: DieEvent})
			return
		}
	}
}
