package transport

import "context"

// Update is an incoming platform event. The delivery engine never consumes
// updates itself; they feed the command surface that manages reminders.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses an outgoing message. Reminder delivery targets the
// recipient's private chat, so ThreadID is almost always 0.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter abstracts the messaging platform.
//
// SendText reports unreachable recipients (blocked bot, deleted account) as
// errors; callers decide whether to retry, and the platform error text is
// preserved for diagnostics.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
