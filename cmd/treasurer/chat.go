package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clubtreasurer/internal/app"
	"clubtreasurer/internal/conversation"
	treasurersdk "clubtreasurer/sdk/go"
)

// chatBackend is one conversation, held in process or behind the HTTP API.
type chatBackend interface {
	Start(ctx context.Context) (string, error)
	Send(ctx context.Context, text string) (string, error)
	Reset(ctx context.Context) (string, error)
	Submit(ctx context.Context) (string, error)
	Status(ctx context.Context) (string, error)
}

type localChat struct {
	sessions *conversation.Manager
	greeting string
	member   string
	id       string
}

func (c *localChat) Start(ctx context.Context) (string, error) {
	snap := c.sessions.Create(c.member)
	c.id = snap.SessionID
	return c.greeting, nil
}

func (c *localChat) Send(ctx context.Context, text string) (string, error) {
	reply, err := c.sessions.Message(ctx, c.id, text)
	return reply.Text, err
}

func (c *localChat) Reset(ctx context.Context) (string, error) {
	if _, err := c.sessions.Reset(c.id); err != nil {
		return "", err
	}
	return c.greeting, nil
}

func (c *localChat) Submit(ctx context.Context) (string, error) {
	id, _, err := c.sessions.Submit(ctx, c.id)
	return id, err
}

func (c *localChat) Status(ctx context.Context) (string, error) {
	snap, err := c.sessions.Get(c.id)
	if err != nil {
		return "", err
	}
	return statusLine(snap.Status, snap.Progress.Collected, snap.Progress.Total, snap.Confidence), nil
}

type remoteChat struct {
	client   *treasurersdk.Client
	greeting string
	id       string
}

func (c *remoteChat) Start(ctx context.Context) (string, error) {
	greeting, sess, err := c.client.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	c.id = sess.SessionID
	c.greeting = greeting
	return greeting, nil
}

func (c *remoteChat) Send(ctx context.Context, text string) (string, error) {
	reply, _, err := c.client.SendMessage(ctx, c.id, text)
	return reply, err
}

func (c *remoteChat) Reset(ctx context.Context) (string, error) {
	if _, err := c.client.ResetSession(ctx, c.id); err != nil {
		return "", err
	}
	return c.greeting, nil
}

func (c *remoteChat) Submit(ctx context.Context) (string, error) {
	return c.client.SubmitSession(ctx, c.id)
}

func (c *remoteChat) Status(ctx context.Context) (string, error) {
	sess, err := c.client.GetSession(ctx, c.id)
	if err != nil {
		return "", err
	}
	return statusLine(sess.Status, sess.Progress.Collected, sess.Progress.Total, sess.Confidence), nil
}

func statusLine(status string, collected, total int, confidence float64) string {
	return fmt.Sprintf("%s | fields %d/%d | confidence %.0f%%", status, collected, total, confidence*100)
}

func chatCmd() *cobra.Command {
	var serverURL, token string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive finance request conversation",
		Long: `Chat runs the member conversation in the terminal. Type your request in plain words.
Commands: /submit sends a complete request, /status shows progress, /reset starts over, /quit exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			member := viper.GetString("actor-id")
			if serverURL != "" {
				client := treasurersdk.New(serverURL)
				client.MemberID = member
				client.BearerToken = token
				return runChat(cmd.Context(), &remoteChat{client: client}, os.Stdin, os.Stdout)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Fprintf(os.Stdout, "(model: %s)\n", a.LLM)
				return runChat(ctx, &localChat{sessions: a.Sessions, greeting: a.Conversation.Greeting(), member: member}, os.Stdin, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "talk to a running API server instead of a local session")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --server")
	return cmd
}

// runChat reads lines from in until EOF or /quit.
func runChat(ctx context.Context, chat chatBackend, in io.Reader, out io.Writer) error {
	greeting, err := chat.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n\n> ", greeting)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		var reply string
		switch strings.ToLower(line) {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		case "/status":
			reply, err = chat.Status(ctx)
		case "/reset":
			reply, err = chat.Reset(ctx)
		case "/submit":
			var id string
			id, err = chat.Submit(ctx)
			if err == nil {
				reply = fmt.Sprintf("Submitted as %s.", id)
			}
		default:
			reply, err = chat.Send(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n\n> ", err)
			continue
		}
		fmt.Fprintf(out, "%s\n\n> ", reply)
	}
	return scanner.Err()
}
