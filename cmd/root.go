// Package cmd is the arbor command line: node and type administration,
// tree maintenance, an interactive shell and an MCP tool server.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/agentic-research/arbor/internal/config"
	"github.com/agentic-research/arbor/internal/engine"
	"github.com/agentic-research/arbor/internal/store"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes by error kind.
const (
	exitOK          = 0
	exitInternal    = 1
	exitInvalid     = 2
	exitNotFound    = 3
	exitConflict    = 4
	exitUnavailable = 5
)

// app holds what one process opens once: configuration, logger, store and
// engine. The shell reuses it across command lines.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	logFile io.Closer
	store   tree.Store
	engine  *engine.Engine
	actor   string
	json    bool
	inShell bool
}

// rootFlags are parsed per invocation.
type rootFlags struct {
	config   string
	db       string
	actor    string
	logLevel string
	json     bool
}

func newRootCmd(a *app) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "arbor",
		Short:         "Arbor: hierarchical category trees with materialized paths",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.json = f.json
			if a.engine == nil {
				if err := a.open(cmd.Context(), f); err != nil {
					return err
				}
			}
			if f.actor != "" {
				a.actor = f.actor
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "arbor.yaml", "Path to YAML config")
	pf.StringVar(&f.db, "db", "", "Database path, overrides database.path (\":memory:\" for an in-process store)")
	pf.StringVar(&f.actor, "actor", "", "Actor recorded in audit fields")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level, overrides log.level")
	pf.BoolVar(&f.json, "json", false, "Print results as JSON")

	root.AddCommand(newNodeCmd(a), newTypeCmd(a), newTreeCmd(a))
	if !a.inShell {
		root.AddCommand(newShellCmd(a), newMCPCmd(a))
	}
	return root
}

// open loads configuration, then sets up logging and the store.
func (a *app) open(ctx context.Context, f *rootFlags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.db != "" {
		cfg.Database.Path = f.db
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	a.cfg = cfg

	logger, closer, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.log, a.logFile = logger, closer

	var s tree.Store
	if cfg.Database.Path == config.MemoryPath {
		s = store.NewMemoryStore()
	} else {
		s, err = store.OpenSQLite(cfg.Database.Path, store.SQLiteOptions{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			BusyTimeout:  cfg.Database.BusyTimeout,
		})
		if err != nil {
			a.log.Error().Err(err).Str("path", cfg.Database.Path).Msg("open store")
			return err
		}
	}
	a.store = s
	a.engine = engine.New(s, engine.WithCascadeTimeout(cfg.Engine.CascadeTimeout))

	a.actor = resolveActor(f.actor, cfg.Actor)
	if _, err := a.engine.EnsureSystemTypes(ctx, a.actor); err != nil {
		return fmt.Errorf("seed node types: %w", err)
	}
	a.log.Debug().Str("path", cfg.Database.Path).Msg("store opened")
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close store")
		}
		a.store, a.engine = nil, nil
	}
	if a.logFile != nil {
		_ = a.logFile.Close() // safe to ignore
		a.logFile = nil
	}
}

func resolveActor(flag, configured string) string {
	for _, v := range []string{flag, configured, os.Getenv("USER")} {
		if v != "" {
			return v
		}
	}
	return "arbor"
}

// newLogger builds the process logger from the log section. A file sink is
// opened in append mode and guarded by a SyncWriter.
func newLogger(c config.Log) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if c.Level != "" {
		l, err := zerolog.ParseLevel(c.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", c.Level, err)
		}
		level = l
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if c.File != "" {
		file, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = zerolog.SyncWriter(file), file
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: c.File != ""}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closer, nil
}

// audit records the outcome of one mutation.
func (a *app) audit(op string, id int64, err error) {
	ev := a.log.Info()
	if err != nil {
		ev = a.log.Error().Err(err).Str("kind", tree.KindOf(err))
	}
	ev.Str("op", op).Int64("id", id).Str("actor", a.actor).Msg("mutation")
}

// emit prints v as JSON with --json, otherwise calls text.
func (a *app) emit(w io.Writer, v any, text func(w io.Writer)) error {
	if !a.json {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("node id %q: %w", s, tree.ErrValidation)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// optionalParent maps a --parent value to a parent id; 0 is the root scope.
func optionalParent(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return tree.Int64(v)
}

func (a *app) typeID(ctx context.Context, code string) (int64, error) {
	nt, err := a.engine.GetTypeByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return nt.ID, nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch tree.KindOf(err) {
	case "NotFound":
		return exitNotFound
	case "ValidationFailure", "CycleDetected", "TypeNotAllowed", "DuplicateSibling",
		"HasChildren", "TypeInUse", "DuplicateType":
		return exitInvalid
	case "ConcurrencyConflict":
		return exitConflict
	case "StoreUnavailable", "Timeout":
		return exitUnavailable
	}
	return exitInternal
}

// Execute runs the root command and exits with a status derived from the
// error kind.
func Execute() {
	a := &app{log: zerolog.Nop()}
	root := newRootCmd(a)
	err := root.ExecuteContext(context.Background())
	if err != nil {
		a.log.Debug().Err(err).Str("kind", tree.KindOf(err)).Msg("command failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	a.close()
	if code := exitCode(err); code != exitOK {
		os.Exit(code)
	}
}
