// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/client"
	"github.com/go-a2a/agentcore/server/event"
)

var (
	sendToken     string
	sendSession   string
	sendContextID string
	sendRetries   int
)

var sendCmd = &cobra.Command{
	Use:   "send AGENT_URL TEXT...",
	Short: "Send a message to an agent and stream the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []client.Option{client.WithRetry(sendRetries, 0)}
		if sendToken != "" {
			opts = append(opts, client.WithBearerToken(sendToken))
		}
		if sendSession != "" {
			opts = append(opts, client.WithSessionID(agentcore.SessionID(sendSession)))
		}
		c, err := client.New(args[0], opts...)
		if err != nil {
			return err
		}

		msg := agentcore.NewMessage(agentcore.RoleUser, agentcore.NewTextPart(strings.Join(args[1:], " ")))
		msg.ContextID = agentcore.ContextID(sendContextID)
		return streamReply(cmd, c, msg)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendToken, "token", "", "bearer token")
	sendCmd.Flags().StringVar(&sendSession, "session", "", "session id sent as "+agentcore.HeaderSessionID)
	sendCmd.Flags().StringVar(&sendContextID, "context", "", "continue an existing context")
	sendCmd.Flags().IntVar(&sendRetries, "retries", 3, "attempts when the server rate limits")
}

// streamReply prints assistant text as it arrives and the final task state
// to stderr.
func streamReply(cmd *cobra.Command, c *client.Client, msg *agentcore.Message) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for ev, err := range c.StreamMessage(cmd.Context(), &agentcore.MessageSendParams{Message: msg}) {
		if err != nil {
			return err
		}
		if err := printEvent(out, errOut, ev); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(out, errOut io.Writer, ev *client.Event) error {
	switch ev.Type {
	case event.TypeTaskCreated:
		if t, ok := ev.Task(); ok {
			fmt.Fprintf(errOut, "task %s (context %s)\n", t.ID, t.ContextID)
		}
	case event.TypeMessageDelta:
		var d event.MessageDelta
		if err := ev.Decode(&d); err != nil {
			return err
		}
		fmt.Fprint(out, d.Delta)
	case event.TypeToolCallEnd:
		var d event.ToolCallEnd
		if err := ev.Decode(&d); err != nil {
			return err
		}
		fmt.Fprintf(errOut, "\n[tool %s]\n", d.ToolName)
	case event.TypeRunFinished:
		if t, ok := ev.Task(); ok {
			fmt.Fprintf(errOut, "\n%s\n", t.Status.State)
		}
	case event.TypeTaskCanceled:
		fmt.Fprintln(errOut, "\ncanceled")
	case event.TypeRunError:
		var d event.RunError
		if err := ev.Decode(&d); err != nil {
			return err
		}
		return errors.New(d.Message)
	}
	return nil
}
