package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/casualjim/trickle"
	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/config"
	"github.com/casualjim/trickle/messages"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func chatCommand(f *flags, cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Stream a response, or start an interactive chat when no prompt is given",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := newEngine(f, *cfg)
			defer cleanup()
			if err != nil {
				return err
			}
			stop := cancelOnInterrupt(engine)
			defer stop()

			var history []messages.Message
			if f.System != "" {
				history = append(history, messages.System(f.System))
			}

			if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
				_, err := chatTurn(cmd, f, engine, append(history, messages.User(prompt)))
				return err
			}
			return repl(cmd, f, engine, history)
		},
	}
}

// repl reads prompts from stdin until EOF or "exit", keeping the
// conversation history across turns.
func repl(cmd *cobra.Command, f *flags, engine *trickle.Engine, history []messages.Message) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanLines)
	out := cmd.OutOrStdout()

	for {
		fmt.Fprintf(out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(out, "Exiting...")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			return nil
		}

		turn := append(history, messages.User(input))
		fmt.Fprint(out, color.MagentaString("Assistant")+": ")
		reply, err := chatTurn(cmd, f, engine, turn)
		switch {
		case errors.Is(err, errCancelled):
			fmt.Fprintln(out, color.HiBlackString("(cancelled)"))
			continue
		case err != nil:
			printError(cmd.ErrOrStderr(), err)
			continue
		}
		history = append(turn, reply)
	}
}

// chatTurn streams one response to msgs and returns it as an assistant message.
func chatTurn(cmd *cobra.Command, f *flags, engine *trickle.Engine, msgs []messages.Message) (messages.Message, error) {
	req, err := completion.New(f.Model, msgs, requestOptions(cmd, f)...)
	if err != nil {
		return messages.Message{}, err
	}
	if f.DumpRequest {
		if err := dumpRequest(cmd.ErrOrStderr(), req.Streaming()); err != nil {
			return messages.Message{}, err
		}
	}

	ctx, cancel := withTimeout(cmd.Context(), f.Timeout)
	defer cancel()

	events, err := engine.Stream(ctx, req, trickle.NewStreamID())
	if err != nil {
		return messages.Message{}, err
	}
	result, err := printStream(ctx, cmd.OutOrStdout(), events, f.Render)
	if err != nil {
		return messages.Message{}, err
	}

	reply := messages.Message{Role: messages.RoleAssistant, ToolCalls: result.ToolCalls}
	if result.Content != "" {
		reply.Parts = []messages.ContentPart{messages.Text(result.Content)}
	}
	return reply, nil
}
