// Package telegram forwards support activity to an agents' Telegram chat,
// so new customer messages are noticed even when nobody has the dashboard open.
package telegram

import (
	"context"
	"log"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotSender is the part of *tgbotapi.BotAPI the notifier and the command
// handler use.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RoomLookup resolves the room an event belongs to.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
}

// Notifier alerts agents about customer messages in unassigned rooms and
// about rooms escalated to URGENT.
type Notifier struct {
	Bot       BotSender
	Hub       *chathub.ManagerService
	Rooms     RoomLookup
	Localizer *localization.Localizer
	ChatID    int64
	Lang      string
}

// NewBotAPI authorizes the bot token.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("INFO: [Telegram] Authorized on account %s", bot.Self.UserName)
	return bot, nil
}

func NewNotifier(bot BotSender, hub *chathub.ManagerService, rooms RoomLookup, loc *localization.Localizer, chatID int64, lang string) *Notifier {
	if !loc.Has(lang) {
		log.Printf("WARN: [Telegram] No catalog for %q, using %s.", lang, localization.DefaultLang)
		lang = localization.DefaultLang
	}
	return &Notifier{Bot: bot, Hub: hub, Rooms: rooms, Localizer: loc, ChatID: chatID, Lang: lang}
}

// Run consumes the hub until ctx is cancelled or the hub shuts down.
func (n *Notifier) Run(ctx context.Context) error {
	sub, err := n.Hub.SubscribeFirehose("telegram")
	if err != nil {
		return err
	}
	defer n.Hub.Unsubscribe(sub)
	log.Printf("INFO: [Telegram] Notifier started for chat %d.", n.ChatID)
	n.consume(ctx, sub)
	return nil
}

func (n *Notifier) consume(ctx context.Context, sub *chathub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev models.Event) {
	var (
		text   string
		markup interface{}
	)
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message == nil || ev.Message.SenderRole != models.RoleCustomer {
			return
		}
		room, err := n.Rooms.GetRoom(ctx, ev.RoomID)
		if err != nil {
			log.Printf("ERROR: [Telegram] Failed to load room %s: %v", ev.RoomID, err)
			return
		}
		if room.AgentID != nil {
			return
		}
		text = n.newMessageText(room, ev.Message)
		markup = roomKeyboard(n.Localizer, n.Lang, room.RoomID)

	case models.EventRoomUpdated:
		if ev.Priority != models.PriorityUrgent {
			return
		}
		text = n.Localizer.Format(n.Lang, "alert.room_escalated", ev.RoomID, ev.Priority)

	default:
		return
	}

	msg := tgbotapi.NewMessage(n.ChatID, text)
	msg.LinkPreviewOptions.IsDisabled = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := n.Bot.Send(msg); err != nil {
		log.Printf("ERROR: [Telegram] Failed to send alert for room %s: %v", ev.RoomID, err)
	}
}

func (n *Notifier) newMessageText(room *models.ChatRoom, msg *models.ChatMessage) string {
	sender := n.Localizer.GetString(n.Lang, "alert.anonymous")
	if room.Customer != nil && room.Customer.Name != "" {
		sender = room.Customer.Name
	}
	subject := room.Subject
	if subject == "" {
		subject = n.Localizer.GetString(n.Lang, "alert.no_subject")
	}

	body := msg.Body
	if ref := msg.ProductRef(); ref != nil {
		product := n.Localizer.Format(n.Lang, "alert.product", ref.Name)
		if body == "" {
			body = product
		} else {
			body = product + "\n" + body
		}
	}
	return n.Localizer.Format(n.Lang, "alert.new_message", sender, subject, room.Priority, body) +
		"\n\n" + n.Localizer.Format(n.Lang, "alert.reply_hint", room.RoomID)
}
