// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Handles the default "chat" command: a readline-style loop over the
// conversation engine with slash commands for branching, version
// navigation, history maintenance, and handover to a live representative.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/baboonchat/baboonchat-tui/internal/config"
	"github.com/baboonchat/baboonchat-tui/internal/engine"
	"github.com/baboonchat/baboonchat-tui/internal/history"
	"github.com/baboonchat/baboonchat-tui/internal/index"
	"github.com/baboonchat/baboonchat-tui/internal/model"
	"github.com/baboonchat/baboonchat-tui/internal/remote"
)

// =============================================================================
// APP WIRING
// =============================================================================

// App bundles the wired-up collaborators for one run.
type App struct {
	Config *config.Config
	Store  *history.Store
	Index  *index.MessageIndex
	Engine *engine.Engine
	output *printer
}

// BuildApp loads configuration and constructs the store, search index,
// backend client, and engine.
func BuildApp(args Args) (*App, error) {
	var cfg *config.Config
	var err error
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if args.BackendURL != "" {
		cfg.Backend.BaseURL = args.BackendURL
	}

	store, err := history.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	var idx *index.MessageIndex
	if cfg.Search.Enabled {
		idx, err = index.Open(cfg.Search.DatabasePath)
		if err != nil {
			// Search is a convenience; the chat still works without it.
			fmt.Fprintf(os.Stderr, "warning: search index unavailable: %v\n", err)
			idx = nil
		}
	}

	client := remote.NewClient(cfg.Backend.BaseURL).
		WithTimeout(cfg.Backend.Timeout()).
		WithMaxRetries(cfg.Backend.MaxRetries).
		WithRateLimit(cfg.Backend.RatePerSecond)

	out := &printer{}
	eng := engine.New(store, client, engine.Options{
		Index:               idx,
		Listener:            out,
		BackupEveryMessages: cfg.Storage.BackupEveryMessages,
	})

	return &App{Config: cfg, Store: store, Index: idx, Engine: eng, output: out}, nil
}

// Close shuts the engine down, taking an exit backup.
func (a *App) Close() {
	a.Engine.Close()
}

// =============================================================================
// OUTPUT
// =============================================================================

// printer renders engine events to stdout. Replies arrive on engine
// goroutines, so printing is serialized with a mutex; it tracks the
// displayed length so only appended messages are echoed (wholesale
// replacements are rendered by the command that caused them).
type printer struct {
	mu      sync.Mutex
	lastLen int
}

func (p *printer) DisplayedChanged(_ string, messages []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(messages) == p.lastLen+1 {
		if m := messages[len(messages)-1]; m.Kind != model.KindUser {
			fmt.Println()
			printMessage(m)
		}
	}
	p.lastLen = len(messages)
}

func (p *printer) SupportContactOffered(contact remote.SupportContact) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Println()
	fmt.Println("  -- support contact --")
	if contact.Phone != "" {
		fmt.Printf("  phone: %s\n", contact.Phone)
	}
	if contact.Email != "" {
		fmt.Printf("  email: %s\n", contact.Email)
	}
	if contact.RepresentativeAvailable {
		fmt.Println("  A representative is available now. Type /handover to connect.")
	}
}

// sync records an externally caused displayed-list change so the next
// append is detected correctly.
func (p *printer) sync(n int) {
	p.mu.Lock()
	p.lastLen = n
	p.mu.Unlock()
}

func printMessage(m model.Message) {
	switch m.Kind {
	case model.KindUser:
		fmt.Printf("you> %s\n", m.Content)
	case model.KindBot:
		fmt.Printf("bot> %s\n", m.Content)
		if m.ImageURL != "" {
			fmt.Printf("     [image] %s\n", m.ImageURL)
		}
	default:
		fmt.Printf("  !! %s\n", m.Content)
	}
}

func printTranscript(messages []model.Message) {
	if len(messages) == 0 {
		fmt.Println("(empty conversation)")
		return
	}
	for i, m := range messages {
		fmt.Printf("[%d] ", i+1)
		printMessage(m)
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive REPL until the user exits.
func HandleChat(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	// Pick up external edits to the store file, e.g. a restore performed
	// by another process.
	if app.Config.Storage.WatchStoreFile {
		watcher, err := history.NewWatcher(app.Store, func() {
			app.Engine.ReloadHistory()
			fmt.Fprintln(os.Stderr, "\n[history reloaded from disk]")
		})
		if err == nil {
			defer watcher.Close()
		}
	}

	if !args.Quiet {
		printWelcome(app)
	}
	app.output.sync(len(app.Engine.Displayed()))

	input := NewInput(app.Config.Storage.DataDir)
	defer input.Close()

	for {
		line, err := input.ReadLine("baboonchat> ")
		if err != nil {
			// Ctrl+C or Ctrl+D: exit, the deferred Close takes a backup.
			if err != liner.ErrPromptAborted && err != io.EOF {
				fmt.Fprintf(os.Stderr, "input error: %v\n", err)
			}
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := handleSlashCommand(app, input, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		if err := app.Engine.SendMessage(context.Background(), line); err != nil {
			switch {
			case errors.Is(err, engine.ErrThreadBusy):
				fmt.Fprintln(os.Stderr, "still waiting for the previous reply")
			default:
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}
		app.output.sync(len(app.Engine.Displayed()))
	}
}

func printWelcome(app *App) {
	fmt.Printf("baboonchat %s\n", Version)
	if app.Config.Backend.BaseURL == "" {
		fmt.Println("no backend configured; browsing history only (set backend.base_url)")
	} else {
		fmt.Printf("backend: %s\n", app.Config.Backend.BaseURL)
	}
	fmt.Println("type /help for commands")
	fmt.Println()

	displayed := app.Engine.Displayed()
	if len(displayed) > 0 {
		fmt.Println("-- resuming previous conversation --")
		printTranscript(displayed)
		fmt.Println()
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand dispatches a /command. The bool result is false when
// the REPL should exit.
func handleSlashCommand(app *App, input *Input, line string) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]
	e := app.Engine

	switch command {
	case "/help", "/h", "/?":
		HandleHelp()
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/n":
		e.StartNewThread()
		app.output.sync(0)
		fmt.Println("[new conversation]")
		return true, nil

	case "/edit", "/e":
		return true, handleEdit(app, args, line)

	case "/prev", "/p":
		if !e.NavigateToPreviousVersion(e.ActiveThreadID()) {
			return true, errors.New("already at the oldest version")
		}
		showVersionPosition(app)
		return true, nil

	case "/next":
		if !e.NavigateToNextVersion(e.ActiveThreadID()) {
			return true, errors.New("already at the newest version")
		}
		showVersionPosition(app)
		return true, nil

	case "/version":
		if len(args) != 1 {
			return true, errors.New("usage: /version N")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return true, fmt.Errorf("not a version number: %s", args[0])
		}
		if !e.NavigateToSpecificVersion(e.ActiveThreadID(), n-1) {
			return true, fmt.Errorf("no version %d", n)
		}
		showVersionPosition(app)
		return true, nil

	case "/versions":
		info, ok := e.CurrentVersionInfo(e.ActiveThreadID())
		if !ok {
			return true, errors.New("no conversation yet")
		}
		fmt.Printf("version %d of %d\n", info.Current+1, info.Total)
		return true, nil

	case "/chains", "/branches":
		chains := e.ChainsForCurrentVersion(e.ActiveThreadID())
		if len(chains) == 0 {
			return true, errors.New("no conversation yet")
		}
		for _, c := range chains {
			marker := " "
			if c.Active {
				marker = "*"
			}
			fmt.Printf("%s %s  (%d messages, from version %d)\n",
				marker, c.ID, c.Messages, c.FromVersion+1)
		}
		return true, nil

	case "/switch":
		if len(args) != 1 {
			return true, errors.New("usage: /switch CHAIN-ID")
		}
		return true, handleSwitch(app, args[0])

	case "/search":
		if len(args) == 0 {
			return true, errors.New("usage: /search QUERY")
		}
		return true, printSearchResults(e, strings.Join(args, " "))

	case "/backup":
		label := "manual"
		if len(args) > 0 {
			label = args[0]
		}
		e.CreateBackup(label)
		fmt.Println("[backup scheduled]")
		return true, nil

	case "/backups":
		return true, printBackups(app.Store)

	case "/restore":
		if len(args) != 1 {
			return true, errors.New("usage: /restore NAME")
		}
		if err := e.RestoreBackup(args[0]); err != nil {
			return true, err
		}
		app.output.sync(len(e.Displayed()))
		fmt.Println("[history restored]")
		printTranscript(e.Displayed())
		return true, nil

	case "/export":
		path, err := e.ExportHistory()
		if err != nil {
			return true, err
		}
		fmt.Printf("exported to %s\n", path)
		return true, nil

	case "/import":
		if len(args) != 1 {
			return true, errors.New("usage: /import PATH")
		}
		if err := e.ImportHistory(args[0]); err != nil {
			return true, err
		}
		app.output.sync(len(e.Displayed()))
		fmt.Println("[history imported]")
		printTranscript(e.Displayed())
		return true, nil

	case "/clear":
		confirm, err := input.ReadLine("delete all conversation history? [y/N] ")
		if err != nil || !strings.EqualFold(strings.TrimSpace(confirm), "y") {
			fmt.Println("[kept]")
			return true, nil
		}
		e.ClearHistory()
		app.output.sync(0)
		fmt.Println("[history cleared; a pre-clear backup was taken]")
		return true, nil

	case "/handover":
		if err := e.ConnectToRepresentative(context.Background()); err != nil {
			return true, err
		}
		app.output.sync(len(e.Displayed()))
		return true, nil

	case "/end":
		e.DisconnectRepresentative()
		return true, nil

	case "/stats", "/s":
		printStats(e)
		return true, nil

	case "/":
		HandleHelp()
		return true, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// handleEdit parses "/edit N TEXT", where N is the 1-based position in the
// displayed transcript and TEXT is the replacement content.
func handleEdit(app *App, args []string, line string) error {
	if len(args) < 2 {
		return errors.New("usage: /edit N TEXT")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("not a message number: %s", args[0])
	}

	displayed := app.Engine.Displayed()
	if n < 1 || n > len(displayed) {
		return fmt.Errorf("no message %d (transcript has %d)", n, len(displayed))
	}
	target := displayed[n-1]
	if target.Kind != model.KindUser {
		return errors.New("only your own messages can be edited")
	}

	// Recover the raw text after the index so spacing survives.
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/edit"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))

	if err := app.Engine.EditMessage(context.Background(), target.ID, rest); err != nil {
		return err
	}
	app.output.sync(len(app.Engine.Displayed()))
	fmt.Println("[branched]")
	printTranscript(app.Engine.Displayed())
	return nil
}

// handleSwitch activates a branch; a unique chain-ID prefix is accepted.
func handleSwitch(app *App, prefix string) error {
	e := app.Engine
	threadID := e.ActiveThreadID()

	var match string
	for _, c := range e.ChainsForCurrentVersion(threadID) {
		if strings.HasPrefix(c.ID, prefix) {
			if match != "" {
				return fmt.Errorf("ambiguous chain prefix %q", prefix)
			}
			match = c.ID
		}
	}
	if match == "" {
		return fmt.Errorf("no chain matches %q", prefix)
	}
	if !e.SwitchToChain(threadID, match) {
		return fmt.Errorf("could not activate chain %s", match)
	}
	app.output.sync(len(e.Displayed()))
	printTranscript(e.Displayed())
	return nil
}

func showVersionPosition(app *App) {
	e := app.Engine
	app.output.sync(len(e.Displayed()))
	if info, ok := e.CurrentVersionInfo(e.ActiveThreadID()); ok {
		fmt.Printf("-- version %d of %d --\n", info.Current+1, info.Total)
	}
	printTranscript(e.Displayed())
}

func printSearchResults(e *engine.Engine, query string) error {
	results, err := e.Search(query, 20)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%s  [%s] %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Kind, r.Snippet)
	}
	return nil
}

func printBackups(store *history.Store) error {
	backups, err := store.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, b := range backups {
		fmt.Printf("%s  %s\n", b.Modified.Format("2006-01-02 15:04:05"), b.Name)
	}
	return nil
}

func printStats(e *engine.Engine) {
	s := e.Stats()
	fmt.Printf("threads:  %d\n", s.Threads)
	fmt.Printf("versions: %d\n", s.Versions)
	fmt.Printf("branches: %d\n", s.Chains)
	fmt.Printf("messages: %d\n", s.Messages)
	if s.StoreBytes > 0 {
		fmt.Printf("store:    %d bytes, updated %s\n",
			s.StoreBytes, s.StoreUpdated.Format("2006-01-02 15:04:05"))
	}
}
