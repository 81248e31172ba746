// ABOUTME: Interactive input loop and slash commands for the chat client
// ABOUTME: Plain lines are sent as messages; /commands drive retries, presence and the session

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hobbylink/meetup-chat/internal/conversation"
	"github.com/hobbylink/meetup-chat/internal/session"
)

var errAmbiguousID = errors.New("ambiguous message id")

type lineHandler interface {
	// handle processes one input line and reports whether to quit.
	handle(line string) bool
}

// runLoop reads lines from in until EOF, ctx is done, or the handler quits.
func runLoop(ctx context.Context, in io.Reader, h lineHandler) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- io.EOF
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if h.handle(line) {
				return nil
			}
		}
	}
}

type chatCommands struct {
	coord *conversation.Coordinator
	sess  *session.Session
	out   io.Writer
}

func (c *chatCommands) handle(line string) bool {
	if !strings.HasPrefix(line, "/") {
		if _, err := c.coord.Send(line); err != nil {
			fmt.Fprintf(c.out, "[error] %v\n", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp(c.out)
	case "/retry":
		c.withMessage(arg, c.coord.Retry)
	case "/discard":
		c.withMessage(arg, c.coord.Discard)
	case "/typing":
		c.coord.Keystroke()
	case "/who":
		fmt.Fprintf(c.out, "online: %s\n", onlineLine(c.coord.OnlineUsers()))
		if line := typingLine(c.coord.TypingUsers()); line != "" {
			fmt.Fprintln(c.out, line)
		}
	case "/status":
		c.printStatus()
	case "/sync":
		c.sess.RequestMessageSync(time.Time{})
	case "/reconnect":
		if err := c.sess.Connect(); err != nil {
			fmt.Fprintf(c.out, "[error] %v\n", err)
		}
	case "/leave":
		if err := c.sess.Disconnect(); err != nil {
			fmt.Fprintf(c.out, "[error] %v\n", err)
		}
	default:
		fmt.Fprintf(c.out, "Unknown command %s. /help lists commands.\n", cmd)
	}
	return false
}

func (c *chatCommands) withMessage(prefix string, fn func(string) error) {
	id, err := c.resolveID(prefix)
	if err == nil {
		err = fn(id)
	}
	if err != nil {
		fmt.Fprintf(c.out, "[error] %v\n", err)
	}
}

// resolveID expands a client message ID prefix as shown next to failed
// messages.
func (c *chatCommands) resolveID(prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("message id required")
	}
	var match string
	for _, m := range c.coord.Messages() {
		if m.ClientMessageID == "" || !strings.HasPrefix(m.ClientMessageID, prefix) {
			continue
		}
		if match != "" && match != m.ClientMessageID {
			return "", fmt.Errorf("%w: %s", errAmbiguousID, prefix)
		}
		match = m.ClientMessageID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", conversation.ErrUnknownMessage, prefix)
	}
	return match, nil
}

func (c *chatCommands) printStatus() {
	info := c.sess.Info()
	fmt.Fprintf(c.out, "status:        %s\n", c.coord.Status())
	fmt.Fprintf(c.out, "session:       %s", info.State)
	if info.SessionID != "" {
		fmt.Fprintf(c.out, " (%s)", info.SessionID)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "reconnects:    %d", info.ReconnectAttempts)
	if info.ReconnectFailed {
		fmt.Fprint(c.out, " (gave up, /reconnect to retry)")
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "queued:        %d\n", info.QueuedMessages)
	fmt.Fprintf(c.out, "subscriptions: %d\n", info.Subscriptions)
	fmt.Fprintf(c.out, "unread:        %d\n", c.coord.UnreadCount())
	if e := c.coord.LastError(); e != nil {
		fmt.Fprintf(c.out, "last error:    %s\n", e.Error())
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /retry <id>    Re-send a failed message")
	fmt.Fprintln(w, "  /discard <id>  Drop a failed message")
	fmt.Fprintln(w, "  /typing        Tell others you are typing")
	fmt.Fprintln(w, "  /who           Show online and typing users")
	fmt.Fprintln(w, "  /status        Show connection details")
	fmt.Fprintln(w, "  /sync          Request recent history from the server")
	fmt.Fprintln(w, "  /reconnect     Connect again after giving up")
	fmt.Fprintln(w, "  /leave         Leave the conversation without quitting")
	fmt.Fprintln(w, "  /quit          Exit")
}
