package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ssrf-beamline/fpsioc/internal/shell"
)

// runInteractive reads commands from the terminal until EOF, "exit" or
// ctx is done.
func runInteractive(ctx context.Context, sh *shell.Shell, logger *slog.Logger) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "fpsioc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(sh),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := sh.Exec(ctx, line); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			logger.Debug("shell command failed", "line", line, "error", err)
		}
	}
}

func completer(sh *shell.Shell) readline.AutoCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(sh.Commands()))
	for _, name := range sh.Commands() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}
