// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses command-line arguments and hosts the interactive
// chat REPL plus the one-shot maintenance commands.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information, synced from main at startup.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command identifies which handler main should route to.
type Command int

const (
	CmdChat Command = iota
	CmdExport
	CmdImport
	CmdSearch
	CmdStats
	CmdBackups
	CmdVersion
	CmdHelp
)

// Args carries parsed global flags and command arguments.
type Args struct {
	// ConfigPath overrides the default config file location.
	ConfigPath string

	// BackendURL overrides the configured backend base URL.
	BackendURL string

	// Quiet suppresses the welcome banner and status chatter.
	Quiet bool

	// Raw holds the positional arguments after the command word.
	Raw []string
}

// Parse reads os.Args and routes to a command. With no command word the
// interactive chat REPL is the default.
func Parse() (Command, Args) {
	remaining, parsed := parseGlobalFlags(os.Args[1:])

	if len(remaining) == 0 {
		return CmdChat, parsed
	}

	cmd := strings.ToLower(remaining[0])
	parsed.Raw = remaining[1:]

	switch cmd {
	case "chat":
		return CmdChat, parsed
	case "export":
		return CmdExport, parsed
	case "import":
		return CmdImport, parsed
	case "search":
		return CmdSearch, parsed
	case "stats", "status":
		return CmdStats, parsed
	case "backups":
		return CmdBackups, parsed
	case "version", "-v", "--version":
		return CmdVersion, parsed
	case "help", "-h", "--help":
		return CmdHelp, parsed
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		return CmdHelp, parsed
	}
}

// parseGlobalFlags strips global flags from the argument list.
func parseGlobalFlags(args []string) ([]string, Args) {
	var parsed Args
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--config":
			if i+1 < len(args) {
				i++
				parsed.ConfigPath = args[i]
			}
		case "--backend":
			if i+1 < len(args) {
				i++
				parsed.BackendURL = args[i]
			}
		case "-q", "--quiet":
			parsed.Quiet = true
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, parsed
}

// HandleVersion prints build information.
func HandleVersion() {
	fmt.Printf("baboonchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// HandleHelp prints usage.
func HandleHelp() {
	fmt.Print(`baboonchat - terminal client for the baboonchat support backend

Usage:
  baboonchat [command] [flags]

Commands:
  chat              Interactive chat session (default)
  export            Write the conversation history to a zip bundle
  import <path>     Replace the conversation history from a zip bundle
  search <query>    Full-text search across all conversations
  stats             Show history statistics
  backups           List available history backups
  version           Show version information
  help              Show this help

Global flags:
  --config PATH     Use an alternate config file
  --backend URL     Override the backend base URL
  -q, --quiet       Suppress the welcome banner

Interactive commands (during chat):
  /help             Show available commands
  /new              Start a fresh conversation
  /edit N TEXT      Edit the Nth displayed message and branch
  /prev /next       Step between versions of the conversation
  /version N        Jump to a specific version
  /versions         Show the current version position
  /chains           List the branches of the current version
  /switch ID        Activate a different branch
  /search QUERY     Search conversation history
  /backup [label]   Snapshot the history store
  /backups          List backups
  /restore NAME     Restore a backup
  /export           Export history to a zip bundle
  /import PATH      Import history from a zip bundle
  /clear            Delete all conversation history
  /handover         Ask for a human representative
  /end              Leave the representative session
  /stats            Show history statistics
  /quit             Exit
`)
}
