// baboonchat - terminal client for the baboonchat support backend.
//
// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/baboonchat/baboonchat-tui/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	// Internal logging is diagnostic noise in an interactive session;
	// surface it only when explicitly requested.
	if os.Getenv("BABOONCHAT_DEBUG") == "" {
		log.SetOutput(io.Discard)
	}

	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdExport:
		err = cli.HandleExport(args)
	case cli.CmdImport:
		err = cli.HandleImport(args)
	case cli.CmdSearch:
		err = cli.HandleSearch(args)
	case cli.CmdStats:
		err = cli.HandleStats(args)
	case cli.CmdBackups:
		err = cli.HandleBackups(args)
	case cli.CmdVersion:
		cli.HandleVersion()
	case cli.CmdHelp:
		cli.HandleHelp()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
