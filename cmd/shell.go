package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/arbor/internal/tree"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt running arbor commands against one open store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "arbor> ",
				HistoryFile:     a.cfg.Shell.HistoryFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("start shell: %w", err)
			}
			defer func() { _ = rl.Close() }() // safe to ignore

			a.inShell = true
			defer func() { a.inShell = false }()

			out := rl.Stdout()
			fmt.Fprintln(out, `arbor shell. Type "help" for commands, "exit" to quit.`)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						fmt.Fprintln(out, `Use "exit" to quit.`)
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}

				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := a.runLine(cmd.Context(), out, line); err != nil {
					fmt.Fprintf(out, "error (%s): %v\n", tree.KindOf(err), err)
				}
			}
		},
	}
}

// runLine executes one shell line through a fresh command tree bound to the
// already open store. Flags do not leak between lines.
func (a *app) runLine(ctx context.Context, w io.Writer, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	actor, asJSON := a.actor, a.json
	defer func() { a.actor, a.json = actor, asJSON }()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.ExecuteContext(ctx)
}

// splitArgs splits a line on whitespace, keeping single- or double-quoted
// runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, inArg = r, true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote: %w", quote, tree.ErrValidation)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
