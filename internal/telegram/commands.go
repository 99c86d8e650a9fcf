package telegram

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/support"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RoomActions is what agents can do to a room from the Telegram chat.
type RoomActions interface {
	RegisterParticipant(ctx context.Context, actor support.Actor) error
	PostMessage(ctx context.Context, actor support.Actor, roomID string, in support.MessageInput) (*models.ChatMessage, error)
	AssignAgent(ctx context.Context, actor support.Actor, roomID, agentID string) (*models.ChatRoom, error)
	UpdateRoomStatus(ctx context.Context, actor support.Actor, roomID string, status models.RoomStatus) (*models.ChatRoom, error)
}

// Commands lets agents answer alerts from the agents' chat: /reply, /take,
// /close and the Take/Close buttons under each alert. Updates from any
// other chat are ignored.
type Commands struct {
	Bot       BotSender
	Rooms     RoomActions
	Localizer *localization.Localizer
	ChatID    int64
	Lang      string
}

func NewCommands(bot BotSender, rooms RoomActions, loc *localization.Localizer, chatID int64, lang string) *Commands {
	if !loc.Has(lang) {
		lang = localization.DefaultLang
	}
	return &Commands{Bot: bot, Rooms: rooms, Localizer: loc, ChatID: chatID, Lang: lang}
}

// Listen starts long polling on bot and handles updates until ctx is done.
func (c *Commands) Listen(ctx context.Context, bot *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()
	c.Run(ctx, updates)
}

// Run is the main loop for received Telegram updates.
func (c *Commands) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	log.Printf("INFO: [Telegram] Listening for agent commands in chat %d.", c.ChatID)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, update)
		}
	}
}

func (c *Commands) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if update.Message.Chat.ID != c.ChatID || !update.Message.IsCommand() || update.Message.From == nil {
			return
		}
		c.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat.ID != c.ChatID || cb.From == nil {
			return
		}
		c.handleCallbackQuery(ctx, cb)
	}
}

func (c *Commands) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())
	roomID, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	var reply string
	switch msg.Command() {
	case "reply":
		if roomID == "" || rest == "" {
			reply = c.text("cmd.usage")
			break
		}
		reply = c.apply(ctx, msg.From, "reply", roomID, rest)
	case "take", "close":
		if roomID == "" {
			reply = c.text("cmd.usage")
			break
		}
		reply = c.apply(ctx, msg.From, msg.Command(), roomID, "")
	case "help", "start":
		reply = c.text("cmd.usage")
	default:
		return
	}
	c.send(reply)
}

func (c *Commands) handleCallbackQuery(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, roomID, ok := strings.Cut(cb.Data, ":")
	if !ok || (action != "take" && action != "close") {
		return
	}
	reply := c.apply(ctx, cb.From, action, roomID, "")

	// Answer the query so the button stops spinning.
	if _, err := c.Bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("WARN: [Telegram] Failed to answer callback: %v", err)
	}
	c.send(reply)
}

// apply runs one agent action and returns the confirmation to post.
func (c *Commands) apply(ctx context.Context, from *tgbotapi.User, action, roomID, body string) string {
	agent := agentFromTelegram(from)
	if err := c.Rooms.RegisterParticipant(ctx, agent); err != nil {
		log.Printf("ERROR: [Telegram] Failed to register agent %s: %v", agent.ID, err)
		return c.format("cmd.failed", roomID)
	}

	var err error
	switch action {
	case "reply":
		_, err = c.Rooms.PostMessage(ctx, agent, roomID, support.MessageInput{Body: body})
		if err == nil {
			return c.format("cmd.sent", roomID)
		}
	case "take":
		_, err = c.Rooms.AssignAgent(ctx, agent, roomID, agent.ID)
		if err == nil {
			return c.format("cmd.taken", roomID, agent.Name)
		}
	case "close":
		_, err = c.Rooms.UpdateRoomStatus(ctx, agent, roomID, models.RoomClosed)
		if err == nil {
			return c.format("cmd.closed", roomID)
		}
	}

	switch {
	case errors.Is(err, support.ErrNotFound):
		return c.format("cmd.not_found", roomID)
	case errors.Is(err, support.ErrRoomClosed):
		return c.format("cmd.room_closed", roomID)
	}
	log.Printf("ERROR: [Telegram] %s on room %s by %s failed: %v", action, roomID, agent.ID, err)
	return c.format("cmd.failed", roomID)
}

func (c *Commands) send(text string) {
	if _, err := c.Bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
		log.Printf("ERROR: [Telegram] Failed to send reply: %v", err)
	}
}

func (c *Commands) text(key string) string {
	return c.Localizer.GetString(c.Lang, key)
}

func (c *Commands) format(key string, args ...interface{}) string {
	return c.Localizer.Format(c.Lang, key, args...)
}

// agentFromTelegram maps a Telegram account to a support agent identity.
func agentFromTelegram(u *tgbotapi.User) support.Actor {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return support.Actor{
		ID:   "tg-" + strconv.FormatInt(u.ID, 10),
		Name: name,
		Role: models.RoleAgent,
	}
}

// roomKeyboard is attached to new message alerts.
func roomKeyboard(loc *localization.Localizer, lang, roomID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(loc.GetString(lang, "button.take"), "take:"+roomID),
			tgbotapi.NewInlineKeyboardButtonData(loc.GetString(lang, "button.close"), "close:"+roomID),
		),
	)
}
