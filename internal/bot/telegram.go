package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/config"
)

const defaultAPIURL = "https://api.telegram.org"

// Telegram is the Bot API transport. It implements Messenger.
type Telegram struct {
	api         *tgbotapi.BotAPI
	pollTimeout time.Duration
	logger      admission.Logger
}

// NewTelegram authenticates against the Bot API.
func NewTelegram(cfg config.TelegramConfig, logger admission.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = defaultAPIURL
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, base+"/bot%s/%s")
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = cfg.Debug

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{api: api, pollTimeout: pollTimeout, logger: logger}, nil
}

// Username is the bot account's handle.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Run long-polls for updates and hands each message or button press to
// handle until ctx ends. Messages are handled one at a time; handle is expected to return
// quickly and push slow work onto admitted tasks.
func (t *Telegram) Run(ctx context.Context, handle func(context.Context, Message)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(t.pollTimeout / time.Second)
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	t.logger.Info("Telegram polling started", zap.String("bot", t.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				handle(ctx, toMessage(update.Message))
			case update.CallbackQuery != nil:
				handle(ctx, toCallback(update.CallbackQuery))
			}
		}
	}
}

func toMessage(m *tgbotapi.Message) Message {
	msg := Message{
		MessageID: m.MessageID,
		Text:      m.Text,
		Caption:   m.Caption,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.From != nil {
		msg.From = Sender{
			ID:        m.From.ID,
			Username:  m.From.UserName,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
		}
	}
	if m.IsCommand() {
		msg.Command = strings.ToLower(m.Command())
		msg.Args = m.CommandArguments()
	}
	msg.PhotoFileID = largestPhoto(m.Photo)
	if m.ReplyToMessage != nil {
		msg.ReplyPhotoFileID = largestPhoto(m.ReplyToMessage.Photo)
	}
	return msg
}

func toCallback(q *tgbotapi.CallbackQuery) Message {
	msg := Message{CallbackID: q.ID, Data: q.Data}
	if q.From != nil {
		msg.From = Sender{
			ID:        q.From.ID,
			Username:  q.From.UserName,
			FirstName: q.From.FirstName,
			LastName:  q.From.LastName,
		}
		// Presses on inline-mode messages carry no chat; answer privately.
		msg.ChatID = q.From.ID
	}
	if q.Message != nil {
		msg.MessageID = q.Message.MessageID
		if q.Message.Chat != nil {
			msg.ChatID = q.Message.Chat.ID
		}
	}
	return msg
}

func markup(keyboard Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// largestPhoto picks the highest resolution size; Telegram lists sizes
// smallest first.
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	if len(sizes) == 0 {
		return ""
	}
	best := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > best.Width*best.Height {
			best = size
		}
	}
	return best.FileID
}

// Send implements Messenger.
func (t *Telegram) Send(_ context.Context, chatID int64, text string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// SendMenu implements Messenger.
func (t *Telegram) SendMenu(_ context.Context, chatID int64, text string, keyboard Keyboard) (int, error) {
	cfg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard) > 0 {
		cfg.ReplyMarkup = markup(keyboard)
	}
	sent, err := t.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// AnswerCallback implements Messenger.
func (t *Telegram) AnswerCallback(_ context.Context, callbackID string) error {
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// Edit implements Messenger.
func (t *Telegram) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	if _, err := t.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// Delete implements Messenger.
func (t *Telegram) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SendPhoto implements Messenger. The photo is referenced by the file id
// Telegram assigns, which outlives provider URLs.
func (t *Telegram) SendPhoto(_ context.Context, chatID int64, photo Photo, caption string, keyboard Keyboard) (string, error) {
	var file tgbotapi.RequestFileData
	if photo.URL != "" {
		file = tgbotapi.FileURL(photo.URL)
	} else {
		file = tgbotapi.FileBytes{Name: photo.Name, Bytes: photo.Data}
	}
	cfg := tgbotapi.NewPhoto(chatID, file)
	cfg.Caption = caption
	if len(keyboard) > 0 {
		cfg.ReplyMarkup = markup(keyboard)
	}

	sent, err := t.api.Send(cfg)
	if err != nil {
		return "", fmt.Errorf("send photo: %w", err)
	}
	if id := largestPhoto(sent.Photo); id != "" {
		return FileRef(id), nil
	}
	if photo.URL != "" {
		return photo.URL, nil
	}
	return "", fmt.Errorf("send photo: no file id in response")
}

// FileURL implements Messenger.
func (t *Telegram) FileURL(_ context.Context, fileID string) (string, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return url, nil
}
