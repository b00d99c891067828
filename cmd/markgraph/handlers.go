package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shubhambiswas2196/markgraph/config"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/engine"
)

// runChat handles the chat command.
func runChat(ctx context.Context, out io.Writer, in io.Reader, configPath, threadID, message string, quiet bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := &printer{out: out, diag: os.Stderr, quiet: quiet}

	if strings.TrimSpace(message) != "" {
		return turn(ctx, rt.graph.Engine(), p, threadID, engine.Input{Message: message})
	}

	fmt.Fprintf(out, "markgraph %s, thread %q. Type /quit to leave.\n", version, threadID)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var input engine.Input
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/state":
			if err := printState(ctx, out, rt.graph.Engine(), threadID); err != nil {
				fmt.Fprintf(p.diag, "error: %v\n", err)
			}
			continue
		case "/approve", "/reject":
			input.Approval = &engine.ApprovalDecision{Approved: cmd == "/approve", Comment: strings.TrimSpace(arg)}
		default:
			input.Message = line
		}

		if err := turn(ctx, rt.graph.Engine(), p, threadID, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(p.diag, "error: %v\n", err)
		}
	}
}

// runResume handles the resume command.
func runResume(ctx context.Context, out io.Writer, configPath, threadID string, approve bool, comment string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := &printer{out: out, diag: os.Stderr}
	return turn(ctx, rt.graph.Engine(), p, threadID, engine.Input{
		Approval: &engine.ApprovalDecision{Approved: approve, Comment: comment},
	})
}

// runState handles the state command.
func runState(ctx context.Context, out io.Writer, configPath, threadID string) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	return printState(ctx, out, rt.graph.Engine(), threadID)
}

// runForget handles the forget command.
func runForget(ctx context.Context, out io.Writer, configPath, threadID string) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.graph.Engine().Forget(ctx, threadID); err != nil {
		return err
	}
	fmt.Fprintf(out, "forgot thread %q\n", threadID)
	return nil
}

// runConfig handles the config command.
func runConfig(out io.Writer, configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	settings, err := config.Settings(configPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(settings)
}

func printState(ctx context.Context, out io.Writer, eng *engine.Engine, threadID string) error {
	st, found := eng.State(ctx, threadID)
	if !found {
		return fmt.Errorf("thread %q has no checkpoint", threadID)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// turn runs one invocation and renders its events.
func turn(ctx context.Context, eng *engine.Engine, p *printer, threadID string, in engine.Input) error {
	_, events, errs, err := eng.Invoke(ctx, threadID, in)
	if err != nil {
		return err
	}
	p.begin()
	for ev := range events {
		p.render(ev)
	}
	return <-errs
}

// printer writes model text to out and progress to diag.
type printer struct {
	out   io.Writer
	diag  io.Writer
	quiet bool

	streamed bool
}

func (p *printer) begin() { p.streamed = false }

func (p *printer) render(ev core.Event) {
	switch ev.Type {
	case core.EventTextDelta:
		p.streamed = true
		fmt.Fprint(p.out, ev.Text)
	case core.EventTextReset:
		if p.streamed {
			fmt.Fprintln(p.out, " [retrying]")
			p.streamed = false
		}
	case core.EventRoutingDecision:
		if !p.quiet && ev.Route != nil {
			fmt.Fprintf(p.diag, "[route] %s\n", ev.Route.Next)
		}
	case core.EventToolStarted:
		if !p.quiet && ev.ToolCall != nil {
			args, _ := json.Marshal(ev.ToolCall.Arguments)
			fmt.Fprintf(p.diag, "[%s] %s %s\n", ev.Author, ev.ToolCall.Name, args)
		}
	case core.EventToolCompleted:
		if p.quiet || ev.ToolCall == nil {
			return
		}
		var tags []string
		if ev.Cached {
			tags = append(tags, "cached")
		}
		if ev.Evicted {
			tags = append(tags, "evicted")
		}
		if ev.IsError {
			tags = append(tags, "error")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " (" + strings.Join(tags, ", ") + ")"
		}
		fmt.Fprintf(p.diag, "[%s] %s done%s\n", ev.Author, ev.ToolCall.Name, suffix)
	case core.EventError:
		fmt.Fprintf(p.diag, "error [%s]: %s\n", ev.ErrorCode, ev.Text)
	case core.EventApprovalRequired:
		p.finish(ev.Text)
		fmt.Fprintln(p.diag, "approval required: answer with /approve or /reject")
	case core.EventTurnComplete:
		p.finish(ev.Text)
	}
}

func (p *printer) finish(text string) {
	if p.streamed {
		fmt.Fprintln(p.out)
		p.streamed = false
		return
	}
	if text != "" {
		fmt.Fprintln(p.out, text)
	}
}
