package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlchat/internal/agent"
	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/formatter"
	"github.com/kyleking/sqlchat/internal/plot"
)

const replHelp = `Commands:
  /tables      list tables and columns
  /last        show the last query result
  /codes       list stored code snippets
  /run <id>    run a stored snippet against the last result
  /clear       clear the conversation
  /help        show this help
  /quit        exit`

func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Start an interactive chat over CSV files or a database",
		Description: `Load a data source and ask questions in a loop. Charts are written as
standalone HTML files under the plot directory.

Examples:
  sqlchat chat --csv employees.csv --csv sales.csv
  sqlchat chat --db-type postgres --db-name shop --db-user analyst`,
		Flags: append(append(sourceFlags(), modelFlags()...),
			&cli.StringFlag{Name: "plot-dir", Usage: "Directory for generated chart files"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			spec, err := sourceFromFlags(cmd)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildEngine(ctx, cfg, engineOptions{Model: true, Snippets: true})
			if err != nil {
				return err
			}
			defer cleanup()

			tables, err := openSource(ctx, engine, spec)
			if err != nil {
				return err
			}

			fmt.Printf("Loaded %d table(s): %s\n", len(tables), strings.Join(tables, ", "))
			fmt.Println("Type /help for commands.")

			r := newREPL(engine, os.Stdin, os.Stdout, cfg.Workspace.PlotDir)
			r.verbose = cfg.Debug.Verbose
			r.spin = newSpinner(os.Stderr)

			return r.run(ctx)
		},
	}
}

// repl is the interactive loop. It owns no state beyond the engine.
type repl struct {
	engine  *chat.Engine
	in      *bufio.Scanner
	out     io.Writer
	plotDir string
	verbose bool
	spin    *spinner.Spinner
	f       *formatter.Formatter
}

func newREPL(engine *chat.Engine, in io.Reader, out io.Writer, plotDir string) *repl {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &repl{
		engine:  engine,
		in:      scanner,
		out:     out,
		plotDir: plotDir,
		f:       formatter.NewFormatter(),
	}
}

func newSpinner(w io.Writer) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " Thinking..."

	return s
}

func (r *repl) run(ctx context.Context) error {
	for {
		fmt.Fprint(r.out, "\n> ")

		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}

			continue
		}

		r.ask(ctx, line)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// command handles a slash command and reports whether to exit
func (r *repl) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/clear":
		r.engine.Session().Reset()
		fmt.Fprintln(r.out, "Conversation cleared.")
	case "/tables":
		if err := printTables(ctx, r.out, r.engine); err != nil {
			r.printError(err)
		}
	case "/last":
		r.printLast()
	case "/codes":
		r.printSnippets()
	case "/run":
		if len(fields) != 2 {
			fmt.Fprintln(r.out, "Usage: /run <id>")
			break
		}

		r.runSnippet(ctx, fields[1])
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", fields[0])
	}

	return false
}

func (r *repl) ask(ctx context.Context, question string) {
	if r.spin != nil {
		r.spin.Start()
	}

	reply, err := r.engine.Ask(ctx, question)

	if r.spin != nil {
		r.spin.Stop()
	}

	if err != nil {
		r.printError(err)
		return
	}

	if r.verbose {
		r.printToolCalls(reply.ToolCalls)
	}

	fmt.Fprintln(r.out, reply.Answer)

	if reply.RenderErr != nil {
		fmt.Fprintf(r.out, "(chart could not be rendered: %s)\n", errors.UserMessage(reply.RenderErr))
	}

	if reply.Plot != nil {
		path, err := writePlot(r.f, r.plotDir, reply.Plot)
		if err != nil {
			r.printError(err)
			return
		}

		fmt.Fprintf(r.out, "Chart saved to %s\n", path)
	}
}

func (r *repl) printToolCalls(calls []agent.ToolCall) {
	for _, c := range calls {
		status := "ok"
		if c.Failed {
			status = "failed"
		}

		fmt.Fprintf(r.out, "  [%s %s, %s] %s\n", c.Name, status, c.Duration.Round(time.Millisecond), c.Arguments)
	}
}

func (r *repl) printLast() {
	df, executed := r.engine.Session().LastResult()
	if df == nil {
		fmt.Fprintln(r.out, "No query has succeeded yet.")
		return
	}

	fmt.Fprintln(r.out, executed)
	fmt.Fprintln(r.out, r.f.FormatFrame(df, formatter.FormatTable, 20))
}

func (r *repl) printSnippets() {
	snips := r.engine.Session().Snippets()
	if len(snips) == 0 {
		fmt.Fprintln(r.out, "No stored code.")
		return
	}

	for _, s := range snips {
		fmt.Fprintln(r.out, r.f.FormatSnippet(s))
	}
}

func (r *repl) runSnippet(ctx context.Context, id string) {
	snip, err := r.engine.RunSnippet(ctx, id)
	if snip.ID != "" {
		fmt.Fprintln(r.out, r.f.FormatSnippet(snip))
	}

	if err != nil {
		r.printError(err)
	}
}

func (r *repl) printError(err error) {
	fmt.Fprintln(r.out, formatError(err))
}

// writePlot stores p as a standalone HTML page and returns its path
func writePlot(f *formatter.Formatter, dir string, p *plot.Payload) (string, error) {
	page, err := f.PlotHTML(p)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create plot directory")
	}

	name := fmt.Sprintf("plot_%s_%s.html", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, page, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write plot")
	}

	return path, nil
}
