// Package telegram is a remote approval surface: pending approval requests
// go out as messages with an inline Approve/Reject keyboard, decisions come
// back through callback queries.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/changeware/flowgate/internal/approval"
	"github.com/changeware/flowgate/internal/protocol"
)

// Callback data constants
const (
	callbackApprove = "approve"
	callbackReject  = "reject"
)

// Bot wraps a Telegram bot that presents approval requests
type Bot struct {
	bot            *bot.Bot
	chatID         int64
	allowedUserIDs map[int64]bool
	broker         *approval.Broker
}

// New creates the approval bot. allowedIDs limits who may decide; an empty
// list allows anyone in the chat.
func New(token string, chatID int64, allowedIDs []int64, broker *approval.Broker) (*Bot, error) {
	allowed := make(map[int64]bool)
	for _, id := range allowedIDs {
		allowed[id] = true
	}

	b := &Bot{
		chatID:         chatID,
		allowedUserIDs: allowed,
		broker:         broker,
	}

	tgBot, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	b.bot = tgBot
	return b, nil
}

// Start begins polling for updates; it blocks until the context is canceled
func (b *Bot) Start(ctx context.Context) {
	log.Printf("[TGBot] Polling started for chat %d", b.chatID)
	b.bot.Start(ctx)
}

// NotifyPending implements approval.Surface: post the request with an
// Approve/Reject keyboard.
func (b *Bot) NotifyPending(req protocol.ApprovalRequest, snap protocol.RunSnapshot) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏳ Approval needed: %s\n\n", req.Title)
	if len(req.Checks) > 0 {
		sb.WriteString("Checks:\n")
		for name, ok := range req.Checks {
			mark := "✅"
			if !ok {
				mark = "❌"
			}
			fmt.Fprintf(&sb, "  %s %s\n", mark, name)
		}
	}
	if req.Diff != "" {
		fmt.Fprintf(&sb, "\n%s", truncate(req.Diff, 2000))
	}

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: callbackApprove},
				{Text: "❌ Reject", CallbackData: callbackReject},
			},
		},
	}

	_, err := b.bot.SendMessage(context.Background(), &bot.SendMessageParams{
		ChatID:      b.chatID,
		Text:        sb.String(),
		ReplyMarkup: keyboard,
	})
	if err != nil {
		log.Printf("[TGBot] Failed to send approval request: %v (run %s)", err, snap.RunID)
	}
}

// NotifyResolved implements approval.Surface
func (b *Bot) NotifyResolved(req protocol.ApprovalRequest) {
	text := fmt.Sprintf("Approval %s: %s by %s", req.Status, req.Title, req.Approver)
	if req.Reason != "" {
		text += " — " + req.Reason
	}
	_, err := b.bot.SendMessage(context.Background(), &bot.SendMessageParams{
		ChatID: b.chatID,
		Text:   text,
	})
	if err != nil {
		log.Printf("[TGBot] Failed to send resolution: %v", err)
	}
}

// handleUpdate routes button clicks to the broker
func (b *Bot) handleUpdate(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	callback := update.CallbackQuery
	userID := callback.From.ID

	if len(b.allowedUserIDs) > 0 && !b.allowedUserIDs[userID] {
		log.Printf("[TGBot] Unauthorized callback from user %d", userID)
		return
	}

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
	})

	approver := "tg:" + callback.From.Username
	switch callback.Data {
	case callbackApprove:
		log.Printf("[TGBot] Approve from %s", approver)
		b.broker.Approve(ctx, approver)
	case callbackReject:
		log.Printf("[TGBot] Reject from %s", approver)
		b.broker.Reject(ctx, approver, "rejected via Telegram")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
