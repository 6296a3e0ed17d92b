package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/config"
	"github.com/casualjim/trickle/messages"
	"github.com/spf13/cobra"
)

func completeCommand(f *flags, cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Request a response without streaming",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errors.New("prompt is required")
			}

			engine, cleanup, err := newEngine(f, *cfg)
			defer cleanup()
			if err != nil {
				return err
			}

			var msgs []messages.Message
			if f.System != "" {
				msgs = append(msgs, messages.System(f.System))
			}
			req, err := completion.New(f.Model, append(msgs, messages.User(prompt)), requestOptions(cmd, f)...)
			if err != nil {
				return err
			}
			if f.DumpRequest {
				if err := dumpRequest(cmd.ErrOrStderr(), req); err != nil {
					return err
				}
			}

			ctx, cancel := withTimeout(cmd.Context(), f.Timeout)
			defer cancel()

			resp, err := engine.Complete(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.Render {
				printMarkdown(out, resp.Message.Text())
			} else if text := resp.Message.Text(); text != "" {
				fmt.Fprintln(out, text)
			}
			printToolCalls(out, resp.Message.ToolCalls)
			printUsage(out, resp.Usage)
			return nil
		},
	}
}
