// Package discord is a remote approval surface over a Discord channel.
// Pending requests are posted as messages; decisions come back as
// `!flowgate approve` / `!flowgate reject [reason]` commands.
package discord

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/changeware/flowgate/internal/approval"
	"github.com/changeware/flowgate/internal/protocol"
)

// Bot wraps a Discord session bound to one approval channel
type Bot struct {
	session   *discordgo.Session
	channelID string
	broker    *approval.Broker
}

// New creates the approval bot for a channel
func New(token, channelID string, broker *approval.Broker) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	b := &Bot{
		session:   session,
		channelID: channelID,
		broker:    broker,
	}

	session.AddHandler(b.handleMessage)
	session.AddHandler(b.handleReady)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return b, nil
}

// Start opens the connection to Discord
func (b *Bot) Start() error {
	log.Println("[Discord] Starting bot...")
	return b.session.Open()
}

// Stop closes the connection
func (b *Bot) Stop() error {
	log.Println("[Discord] Stopping bot...")
	return b.session.Close()
}

func (b *Bot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[Discord] Connected as %s#%s", r.User.Username, r.User.Discriminator)
}

// NotifyPending implements approval.Surface
func (b *Bot) NotifyPending(req protocol.ApprovalRequest, snap protocol.RunSnapshot) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏳ **Approval needed:** %s\n", req.Title)
	if len(req.Checks) > 0 {
		sb.WriteString("Checks:\n")
		for name, ok := range req.Checks {
			mark := "✅"
			if !ok {
				mark = "❌"
			}
			fmt.Fprintf(&sb, "• %s %s\n", mark, name)
		}
	}
	if req.Diff != "" {
		fmt.Fprintf(&sb, "```diff\n%s\n```\n", truncate(req.Diff, 1500))
	}
	sb.WriteString("Reply `!flowgate approve` or `!flowgate reject [reason]`")

	if _, err := b.session.ChannelMessageSend(b.channelID, sb.String()); err != nil {
		log.Printf("[Discord] Failed to post approval request: %v (run %s)", err, snap.RunID)
	}
}

// NotifyResolved implements approval.Surface
func (b *Bot) NotifyResolved(req protocol.ApprovalRequest) {
	text := fmt.Sprintf("Approval **%s**: %s by %s", req.Status, req.Title, req.Approver)
	if req.Reason != "" {
		text += " — " + req.Reason
	}
	if _, err := b.session.ChannelMessageSend(b.channelID, text); err != nil {
		log.Printf("[Discord] Failed to post resolution: %v", err)
	}
}

// handleMessage processes incoming commands
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot's own messages
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != b.channelID {
		return
	}

	text := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(text, "!flowgate") && !strings.HasPrefix(text, "/flowgate") {
		return
	}

	parts := strings.Fields(text)
	if len(parts) < 2 {
		b.send("Commands:\n• `!flowgate approve` — approve the pending request\n• `!flowgate reject [reason]` — reject it")
		return
	}

	approver := "discord:" + m.Author.Username
	switch parts[1] {
	case "approve":
		log.Printf("[Discord] Approve from %s", approver)
		b.broker.Approve(context.Background(), approver)
	case "reject":
		reason := "rejected via Discord"
		if len(parts) > 2 {
			reason = strings.Join(parts[2:], " ")
		}
		log.Printf("[Discord] Reject from %s: %s", approver, reason)
		b.broker.Reject(context.Background(), approver, reason)
	default:
		b.send("Unknown command. Try `!flowgate` for help.")
	}
}

func (b *Bot) send(text string) {
	if _, err := b.session.ChannelMessageSend(b.channelID, text); err != nil {
		log.Printf("[Discord] Send failed: %v", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
