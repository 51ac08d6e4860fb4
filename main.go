// eumbeacon is an end-user monitoring beacon collector.
//
// Usage:
//
//	eumbeacon server   accept beacons over UDP and HTTP and store sessions
//	eumbeacon agent    send signed host beacons to the collector
//	eumbeacon sessions list sessions held by a running collector
package main

import (
	"fmt"
	"os"
	"strings"

	"eumbeacon/cmd/agent"
	"eumbeacon/cmd/edit"
	"eumbeacon/cmd/server"
	"eumbeacon/cmd/sessions"
)

const (
	defaultSystemPath = "/etc/eumbeacon/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "server":
		err = server.Run(configPath)
	case "agent":
		err = agent.Run(configPath)
	case "sessions":
		err = sessions.Run(configPath, args[1:])
	case "edit":
		err = edit.Run(configPath)
	case "version":
		fmt.Printf("eumbeacon v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`eumbeacon v%s — end-user monitoring beacon collector

Usage:
  eumbeacon <command> [--config <path>]

Commands:
  server                 Start the collector (UDP listener, HTTP /beacon, RPC socket)
  agent                  Send signed host beacons to the collector
  sessions [--all] [id]  List sessions, or print one session's records
  edit                   Edit the configuration file in your system editor
  version                Print version information
  help                   Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  eumbeacon server                      # Start the collector with default config
  eumbeacon sessions                    # Show active sessions
  eumbeacon sessions sess-42            # Dump the records of one session

`, version, defaultSystemPath)
}
