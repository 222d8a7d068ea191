// Package bot turns chat messages into admitted image tasks.
package bot

import (
	"context"
	"strings"
)

// fileRefPrefix marks an image reference that is a transport file id rather
// than a URL.
const fileRefPrefix = "tg:"

// FileRef wraps a transport file id as a stored image reference.
func FileRef(fileID string) string {
	return fileRefPrefix + fileID
}

func parseFileRef(ref string) (string, bool) {
	return strings.CutPrefix(ref, fileRefPrefix)
}

// Sender is the chat user behind a message.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Message is an incoming chat message, independent of the transport.
type Message struct {
	ChatID    int64
	MessageID int
	From      Sender
	Text      string
	// Command is the bot command without the slash, and Args what follows it.
	Command string
	Args    string
	Caption string
	// PhotoFileID is the largest size of an attached photo.
	PhotoFileID string
	// ReplyPhotoFileID is the largest photo of the message replied to.
	ReplyPhotoFileID string
	// CallbackID is set when the message is a button press; MessageID then
	// names the message carrying the button and Data its payload.
	CallbackID string
	Data       string
}

// IsCallback reports whether the message is an inline button press.
func (m Message) IsCallback() bool {
	return m.CallbackID != ""
}

// Button is an inline button that sends Data back when pressed.
type Button struct {
	Text string
	Data string
}

// Keyboard is rows of inline buttons attached to a sent message.
type Keyboard [][]Button

// Photo is an image to deliver, by URL or by content.
type Photo struct {
	URL  string
	Data []byte
	Name string
}

// Messenger is the chat transport used by Handler.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	// SendMenu sends text with an inline keyboard below it.
	SendMenu(ctx context.Context, chatID int64, text string, keyboard Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	// SendPhoto delivers an image and returns a reference to it that stays
	// resolvable later: the URL when one was given, otherwise a file ref.
	SendPhoto(ctx context.Context, chatID int64, photo Photo, caption string, keyboard Keyboard) (string, error)
	// AnswerCallback acknowledges a button press so the client stops its
	// loading indicator.
	AnswerCallback(ctx context.Context, callbackID string) error
	// FileURL resolves an uploaded file id to a downloadable URL.
	FileURL(ctx context.Context, fileID string) (string, error)
}
