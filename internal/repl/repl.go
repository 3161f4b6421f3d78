// Package repl implements the interactive loop: read a line, hand it to the
// agent, report the reply and any execution results, repeat. The loop is the
// only writer of the transcript; everything here is single-threaded.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/codexec/codebot/internal/agent"
	"github.com/codexec/codebot/internal/session"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	aiStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	outputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	bannerStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)
)

const banner = `AI Code Executing Agent

- Ask any question or request code solutions
- Python code in replies is executed automatically
- upload <filepath> [with prompt <your prompt>]
  sends a file to the AI with instructions
- exit, quit, or bye ends the session
- clear resets the conversation history`

// Processor handles one user input. *agent.Agent satisfies it.
type Processor interface {
	Process(ctx context.Context, input string) (agent.Turn, error)
}

// Transcript is the slice of the session the loop controls directly.
type Transcript interface {
	Clear()
}

// REPL is the interaction loop.
type REPL struct {
	proc   Processor
	trans  Transcript
	in     *bufio.Reader
	out    io.Writer
	render func(string) string
}

// New creates a REPL reading from in and writing to out. Markdown rendering
// is enabled only when out is a real terminal file.
func New(proc Processor, trans Transcript, in io.Reader, out io.Writer) *REPL {
	r := &REPL{
		proc:   proc,
		trans:  trans,
		in:     bufio.NewReader(in),
		out:    out,
		render: func(s string) string { return s },
	}
	if _, ok := out.(*os.File); ok {
		if tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
			r.render = func(s string) string {
				rendered, rerr := tr.Render(s)
				if rerr != nil {
					return s
				}
				return strings.TrimRight(rendered, "\n") + "\n"
			}
		}
	}
	return r
}

// Run executes the loop until an exit command, EOF, or a fatal error.
// Exit commands terminate without any further API call.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, bannerStyle.Render(banner))

	for {
		fmt.Fprint(r.out, promptStyle.Render("You: "))
		line, err := r.in.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return err
		}
		input := strings.TrimSpace(line)

		switch {
		case input == "":
			// fall through to EOF check

		case isExitCommand(input):
			fmt.Fprintln(r.out, noticeStyle.Render("Goodbye!"))
			return nil

		case strings.EqualFold(input, "clear"):
			r.trans.Clear()
			fmt.Fprintln(r.out, bannerStyle.Render(banner))
			fmt.Fprintln(r.out, successStyle.Render("Conversation history cleared."))

		case strings.HasPrefix(strings.ToLower(input), "upload "):
			if err := r.handleUpload(ctx, input); err != nil {
				if fatal(err) {
					return err
				}
				fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
			}

		default:
			if err := r.process(ctx, input); err != nil {
				if fatal(err) {
					return err
				}
				fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
			}
		}

		if eof {
			fmt.Fprintln(r.out, noticeStyle.Render("Goodbye!"))
			return nil
		}
	}
}

func (r *REPL) process(ctx context.Context, input string) error {
	fmt.Fprintln(r.out, noticeStyle.Render("AI thinking..."))
	turn, err := r.proc.Process(ctx, input)
	if err != nil {
		return err
	}
	r.report(turn)
	return nil
}

// report prints everything that happened during the turn, in order.
func (r *REPL) report(turn agent.Turn) {
	fmt.Fprint(r.out, aiStyle.Render("AI: "))
	fmt.Fprintln(r.out, r.render(turn.Reply))

	for _, e := range turn.Executions {
		label := "Code Output:"
		if e.Attempt > 0 {
			label = fmt.Sprintf("Code Output (retry %d):", e.Attempt)
		}
		fmt.Fprintln(r.out, outputStyle.Render(label))
		switch {
		case e.Result.TimedOut:
			fmt.Fprintln(r.out, errorStyle.Render("execution timed out"))
		case e.Result.ExitCode != 0:
			fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("exit status %d", e.Result.ExitCode)))
			if s := strings.TrimRight(e.Result.Stderr, "\n"); s != "" {
				fmt.Fprintln(r.out, s)
			}
		default:
			out := strings.TrimRight(e.Result.Stdout, "\n")
			if out == "" {
				out = "(no output)"
			}
			fmt.Fprintln(r.out, out)
		}
	}

	for _, reply := range turn.Replies {
		fmt.Fprint(r.out, aiStyle.Render("AI: "))
		fmt.Fprintln(r.out, r.render(reply))
	}
}

// handleUpload reads a local text file and forwards its contents with the
// optional instruction through the normal processing path.
func (r *REPL) handleUpload(ctx context.Context, input string) error {
	path, prompt, err := parseUpload(input)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if prompt == "" {
		prompt = "Please analyze it and suggest what I can do with it."
	}
	msg := fmt.Sprintf("I'm uploading a file named '%s'. %s\n\nFile Content:\n```\n%s\n```",
		filepath.Base(path), prompt, string(content))
	return r.process(ctx, msg)
}

// parseUpload splits "upload <path> [with prompt <p>]" into its parts.
func parseUpload(input string) (path, prompt string, err error) {
	rest := strings.TrimSpace(input[len("upload"):])
	if rest == "" {
		return "", "", errors.New("usage: upload <filepath> [with prompt <your prompt>]")
	}
	if idx := indexFold(rest, " with prompt "); idx >= 0 {
		path = strings.TrimSpace(rest[:idx])
		prompt = strings.TrimSpace(rest[idx+len(" with prompt "):])
	} else {
		path = rest
	}
	if path == "" {
		return "", "", errors.New("usage: upload <filepath> [with prompt <your prompt>]")
	}
	return path, prompt, nil
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}

func isExitCommand(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

// fatal reports whether the loop should terminate on this error. Only a
// credential failure is fatal; transport and execution errors are surfaced
// and the loop continues.
func fatal(err error) bool {
	return errors.Is(err, session.ErrAuth)
}
