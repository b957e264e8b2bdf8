// Package tui is the terminal chat client for a genie server.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

type Options struct {
	Title string
	// HistoryLimit is how many past turns to preload. Zero uses the server default.
	HistoryLimit int
}

// Interactive reports whether stdin and stdout are both terminals.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// Run opens the full-screen chat against c until the user quits or ctx ends.
func Run(ctx context.Context, c *Client, opts Options) error {
	history, err := c.History(ctx, opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	title := opts.Title
	if title == "" {
		title = "Genie · " + c.ClientID
	}

	defer bestEffortResetTTY()
	p := tea.NewProgram(newChatModel(ctx, title, c.Ask, history), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunPlain is the line-oriented fallback used when no terminal is attached:
// one question per input line, one answer per output block.
func RunPlain(ctx context.Context, ask AskFunc, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		answer, err := ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %s\n\n", humanError(err))
			continue
		}
		fmt.Fprintf(out, "%s\n\n", answer)
	}
	return sc.Err()
}
