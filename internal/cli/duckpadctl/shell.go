package duckpadctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

const (
	shellPrompt         = "duckpad> "
	shellContinuePrompt = "     ... "
)

// Prompter reads one line of input per call. Prompt returns io.EOF when the
// input is exhausted.
type Prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

type linePrompter struct {
	state *liner.State
}

// NewLinePrompter returns a terminal prompter with line editing and history.
func NewLinePrompter() Prompter {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetMultiLineMode(true)
	return &linePrompter{state: state}
}

func (p *linePrompter) Prompt(prompt string) (string, error) {
	line, err := p.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	return line, err
}

func (p *linePrompter) AppendHistory(item string) {
	p.state.AppendHistory(item)
}

func (p *linePrompter) Close() error {
	return p.state.Close()
}

// shell runs statements terminated by ';' until exit, quit or end of input.
// A failing statement is reported and the loop continues.
func (c apiClient) shell(ctx context.Context, stdout, stderr io.Writer, prompter Prompter) int {
	defer func() { _ = prompter.Close() }()

	var pending strings.Builder
	for {
		if ctx.Err() != nil {
			return 1
		}
		prompt := shellPrompt
		if pending.Len() > 0 {
			prompt = shellContinuePrompt
		}
		line, err := prompter.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintln(stdout)
			return 0
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read input: %v\n", err)
			return 1
		}

		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 {
			if trimmed == "" {
				continue
			}
			switch strings.ToLower(strings.TrimSuffix(trimmed, ";")) {
			case "exit", "quit", `\q`:
				return 0
			}
		}

		if pending.Len() > 0 {
			pending.WriteByte('\n')
		}
		pending.WriteString(line)
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		statement := strings.TrimSpace(pending.String())
		pending.Reset()
		prompter.AppendHistory(statement)

		sqlText := strings.TrimSpace(strings.TrimSuffix(statement, ";"))
		if sqlText == "" {
			_, _ = fmt.Fprintln(stderr, "Please enter a query")
			continue
		}
		_ = c.query(ctx, stdout, stderr, sqlText)
	}
}
