package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/casualjim/trickle/stream"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
)

var errCancelled = errors.New("stream cancelled")

// printStream writes the tokens of a stream as they arrive. With render set
// the tokens are held back and the full response is rendered as markdown at
// the end. It returns the completion, or the stream error.
func printStream(ctx context.Context, w io.Writer, events <-chan stream.Event, render bool) (*stream.Completion, error) {
	var content strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if content.Len() > 0 && !render {
					fmt.Fprintln(w)
				}
				return nil, errCancelled
			}

			switch e := event.(type) {
			case stream.Token:
				content.WriteString(e.Text)
				if !render {
					fmt.Fprint(w, e.Text)
				}
			case stream.Completed:
				if render {
					printMarkdown(w, e.Completion.Content)
				} else if content.Len() > 0 {
					fmt.Fprintln(w)
				}
				printToolCalls(w, e.Completion.ToolCalls)
				printUsage(w, e.Completion.Usage)
				return &e.Completion, nil
			case stream.Failed:
				if content.Len() > 0 && !render {
					fmt.Fprintln(w)
				}
				return nil, e.Err
			}
		}
	}
}

func printMarkdown(w io.Writer, text string) {
	if text == "" {
		return
	}
	glam, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	out, err := glam.Render(text)
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	fmt.Fprint(w, out)
}

func printToolCalls(w io.Writer, calls []messages.ToolCall) {
	for _, tc := range calls {
		if tc.Name == "" {
			continue
		}
		args := strings.ReplaceAll(tc.Arguments, ": ", "=")
		fmt.Fprintf(w, "%s%s\n", color.YellowString(tc.Name), args)
	}
}

func printUsage(w io.Writer, usage *completion.Usage) {
	if usage == nil {
		return
	}
	fmt.Fprintln(w, color.HiBlackString("tokens: %d prompt, %d completion, %d total",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens))
}

// printError writes err, and the suggested remediation when it is a
// classified completion error.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", color.RedString("Error:"), err)
	if lerr, ok := llmerr.As(err); ok {
		if hint := lerr.Remediation(); hint != "" {
			fmt.Fprintf(w, "%s %s\n", color.YellowString("Hint:"), hint)
		}
	}
}

// dumpRequest pretty prints the wire body of req.
func dumpRequest(w io.Writer, req *completion.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	_, err = pp.Fprintln(w, decoded)
	return err
}
