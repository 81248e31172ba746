// ABOUTME: Terminal rendering of conversation messages and state changes
// ABOUTME: Formats timeline lines with delivery markers and prints status notices

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/hobbylink/meetup-chat/internal/chat"
	"github.com/hobbylink/meetup-chat/internal/conversation"
)

// shortIDLen is how much of a client message ID is shown for /retry.
const shortIDLen = 8

// presenceSource is the part of the coordinator the renderer reads on
// typing and presence changes.
type presenceSource interface {
	TypingUsers() []conversation.TypingUser
	OnlineUsers() []chat.User
}

type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	selfID   int64
	selfName string
	typing   string
}

func newRenderer(out io.Writer, selfID int64, selfName string) *renderer {
	return &renderer{out: out, selfID: selfID, selfName: selfName}
}

func (r *renderer) historyLocked(msgs []chat.Message) {
	if len(msgs) == 0 {
		return
	}
	color.New(color.FgHiBlack).Fprintf(r.out, "── %d earlier messages ──\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintln(r.out, r.formatMessage(m))
	}
}

func (r *renderer) change(ch conversation.Change, src presenceSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dim := color.New(color.FgHiBlack)
	switch ch.Kind {
	case conversation.ChangeHistoryLoaded:
		r.historyLocked(ch.Messages)
	case conversation.ChangeMessageAdded:
		fmt.Fprintln(r.out, r.formatMessage(ch.Message))
	case conversation.ChangeMessageUpdated:
		if ch.Message.Status == chat.StatusFailed {
			color.New(color.FgRed).Fprintf(r.out, "✗ not delivered: %q (/retry %s or /discard %s)\n",
				ch.Message.Content, shortID(ch.Message.ClientMessageID), shortID(ch.Message.ClientMessageID))
		}
	case conversation.ChangeMessageRemoved:
		dim.Fprintf(r.out, "discarded %q\n", ch.Message.Content)
	case conversation.ChangeTyping:
		line := typingLine(src.TypingUsers())
		if line != "" && line != r.typing {
			dim.Fprintln(r.out, line)
		}
		r.typing = line
	case conversation.ChangePresence:
		dim.Fprintf(r.out, "online: %s\n", onlineLine(src.OnlineUsers()))
	case conversation.ChangeStatus:
		statusColor(ch.Status).Fprintf(r.out, "[%s]\n", ch.Status)
	case conversation.ChangeUnread:
		if ch.Unread > 0 {
			dim.Fprintf(r.out, "%d unread\n", ch.Unread)
		}
	case conversation.ChangeServerError:
		if ch.ServerError != nil {
			color.New(color.FgRed).Fprintf(r.out, "server: %s\n", ch.ServerError.Error())
		}
	case conversation.ChangeNotification:
		if n := ch.Notification; n != nil && n.MeetupID != 0 {
			dim.Fprintf(r.out, "notification: %s in meetup %d\n", strings.ToLower(n.Type), n.MeetupID)
		}
	}
}

func (r *renderer) formatMessage(m chat.Message) string {
	var b strings.Builder

	if t := m.CreatedAt(); !t.IsZero() {
		b.WriteString(color.HiBlackString(t.Local().Format("15:04") + " "))
	}

	own := m.AuthorID() == r.selfID
	name := m.DisplayName()
	if own {
		if name == "" {
			name = r.selfName
		}
		b.WriteString(color.GreenString(name))
	} else {
		if name == "" {
			name = fmt.Sprintf("user-%d", m.AuthorID())
		}
		b.WriteString(color.CyanString(name))
	}
	b.WriteString(": ")
	b.WriteString(m.Content)

	if own {
		if marker := statusMarker(m.Status); marker != "" {
			b.WriteString(" " + color.HiBlackString(marker))
		}
	}
	return b.String()
}

func statusMarker(s chat.DeliveryStatus) string {
	switch s {
	case chat.StatusSending:
		return "…"
	case chat.StatusDelivered:
		return "✓"
	case chat.StatusRead:
		return "✓✓"
	case chat.StatusFailed:
		return "✗"
	default:
		return ""
	}
}

func statusColor(s conversation.Status) *color.Color {
	switch s {
	case conversation.StatusConnected:
		return color.New(color.FgGreen)
	case conversation.StatusError, conversation.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func typingLine(users []conversation.TypingUser) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		if u.Username != "" {
			names = append(names, u.Username)
		} else {
			names = append(names, fmt.Sprintf("user-%d", u.UserID))
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
	}
}

func onlineLine(users []chat.User) string {
	if len(users) == 0 {
		return "nobody"
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.DisplayName()
	}
	return strings.Join(names, ", ")
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}
