package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/core"
	"github.com/pixelbot/pixelbot/internal/core/store"
	"github.com/pixelbot/pixelbot/internal/imaging"
	"github.com/pixelbot/pixelbot/internal/metrics"
)

// Store is the persistence the handler needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, profile store.UserProfile) (*core.User, error)
	IncrementUsageStat(ctx context.Context, telegramID int64, stat string) error
	SaveImageRecord(ctx context.Context, rec *core.ImageRecord) (int64, error)
	ListUserImages(ctx context.Context, userID int64, limit int) ([]core.ImageRecord, error)
	LatestUserImage(ctx context.Context, userID int64) (*core.ImageRecord, error)
	GetTaskRecord(ctx context.Context, taskID string) (*core.TaskRecord, error)
	SaveTaskRecord(ctx context.Context, rec *core.TaskRecord) error
	UpdateTaskStatus(ctx context.Context, taskID, status, resultURL, errorMessage string) error
}

// Options tune the handler.
type Options struct {
	MaxRequestsPerMinute int
	MaxActiveTasks       int
	// Retention is how long finished tasks stay visible; shown in /help.
	Retention time.Duration
	// Timeout bounds one task end to end.
	Timeout time.Duration
	Width   int
	Height  int
	// WorkContext parents every admitted task. Cancelling it abandons
	// in-flight work; it defaults to context.Background.
	WorkContext context.Context
}

// Handler routes chat messages.
type Handler struct {
	msgr   Messenger
	coord  *admission.Coordinator
	gen    driver.ImageGenerator
	store  Store
	images *imaging.Service
	logger admission.Logger
	opts   Options
}

// New builds a Handler.
func New(msgr Messenger, coord *admission.Coordinator, gen driver.ImageGenerator, st Store, images *imaging.Service, logger admission.Logger, opts Options) *Handler {
	if opts.WorkContext == nil {
		opts.WorkContext = context.Background()
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 1024
	}
	if images == nil {
		images = imaging.New(0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{msgr: msgr, coord: coord, gen: gen, store: st, images: images, logger: logger, opts: opts}
}

// Handle processes one message or button press. Errors are reported to the
// chat and logged, never returned, so one bad update cannot stop the update
// loop.
func (h *Handler) Handle(ctx context.Context, msg Message) {
	metrics.RecordBotUpdate(updateKind(msg))

	var err error
	if msg.IsCallback() {
		err = h.callback(ctx, msg)
	} else {
		err = h.command(ctx, msg)
	}

	if err != nil {
		h.logger.Error("Message handling failed",
			zap.Int64("chat_id", msg.ChatID),
			zap.String("command", msg.Command),
			zap.String("callback", msg.Data),
			zap.Error(err))
		_ = h.reply(ctx, msg, textUnexpected)
	}
}

func (h *Handler) command(ctx context.Context, msg Message) error {
	switch msg.Command {
	case "start":
		return h.start(ctx, msg)
	case "generate":
		return h.generate(ctx, msg, msg.Args)
	case "enhance":
		return h.enhance(ctx, msg)
	case "history":
		return h.history(ctx, msg)
	case "settings":
		return h.settings(ctx, msg)
	case "status":
		return h.status(ctx, msg)
	case "help":
		return h.help(ctx, msg)
	case "":
		if msg.PhotoFileID != "" {
			return h.photo(ctx, msg)
		}
		return h.generate(ctx, msg, msg.Text)
	default:
		return h.reply(ctx, msg, textUnknownCommand)
	}
}

// callback handles an inline button press. The press is acknowledged first
// so the client clears its spinner even when the action fails.
func (h *Handler) callback(ctx context.Context, msg Message) error {
	if err := h.msgr.AnswerCallback(ctx, msg.CallbackID); err != nil {
		h.logger.Debug("Callback answer failed", zap.Error(err))
	}

	switch msg.Data {
	case dataQuickGenerate:
		return h.replace(ctx, msg, textQuickGenerate)
	case dataExamples:
		return h.replace(ctx, msg, examplesText)
	case dataHelp:
		return h.help(ctx, msg)
	case dataSettings:
		return h.settings(ctx, msg)
	}
	if id, ok := strings.CutPrefix(msg.Data, dataRegeneratePrefix); ok {
		return h.regenerate(ctx, msg, id)
	}
	if id, ok := strings.CutPrefix(msg.Data, dataEnhancePrefix); ok {
		return h.enhanceResult(ctx, msg, id)
	}
	h.logger.Debug("Unknown callback", zap.String("data", msg.Data))
	return nil
}

func updateKind(msg Message) string {
	switch {
	case msg.IsCallback():
		return "callback"
	case msg.Command != "":
		return msg.Command
	case msg.PhotoFileID != "":
		return "photo"
	default:
		return "text"
	}
}

func requestorOf(from Sender) admission.RequestorID {
	return admission.RequestorID(strconv.FormatInt(from.ID, 10))
}

func (h *Handler) reply(ctx context.Context, msg Message, text string) error {
	_, err := h.msgr.Send(ctx, msg.ChatID, text)
	return err
}

// replace rewrites the message a button was pressed on, falling back to a
// new message when it cannot be edited.
func (h *Handler) replace(ctx context.Context, msg Message, text string) error {
	if msg.MessageID != 0 {
		if err := h.msgr.Edit(ctx, msg.ChatID, msg.MessageID, text); err == nil {
			return nil
		}
	}
	return h.reply(ctx, msg, text)
}

func (h *Handler) ensureUser(ctx context.Context, from Sender) (*core.User, error) {
	return h.store.GetOrCreateUser(ctx, store.UserProfile{
		TelegramID: from.ID,
		Username:   from.Username,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
}

func (h *Handler) start(ctx context.Context, msg Message) error {
	if _, err := h.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	_, err := h.msgr.SendMenu(ctx, msg.ChatID, welcomeText, welcomeKeyboard)
	return err
}

func (h *Handler) help(ctx context.Context, msg Message) error {
	text := helpText(h.opts.MaxRequestsPerMinute, h.opts.MaxActiveTasks, h.opts.Retention)
	_, err := h.msgr.SendMenu(ctx, msg.ChatID, text, helpKeyboard)
	return err
}

func (h *Handler) generate(ctx context.Context, msg Message, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" && msg.Command != "" {
		return h.reply(ctx, msg, textGenerateUsage)
	}
	if text, ok := checkPrompt(prompt); !ok {
		return h.reply(ctx, msg, text)
	}
	return h.submit(ctx, msg, job{kind: admission.KindGeneration, prompt: prompt, display: prompt})
}

func checkPrompt(prompt string) (string, bool) {
	n := utf8.RuneCountInString(prompt)
	switch {
	case n < minPromptLen:
		return textPromptTooShort, false
	case n > maxPromptLen:
		return textPromptTooLong(n), false
	}
	return "", true
}

func (h *Handler) photo(ctx context.Context, msg Message) error {
	caption := strings.TrimSpace(msg.Caption)
	if caption == "" {
		return h.reply(ctx, msg, "📸 Image Received!\n\nAdd a caption describing the change you want, or reply to the image with /enhance.")
	}
	if text, ok := checkPrompt(caption); !ok {
		return h.reply(ctx, msg, text)
	}
	return h.submit(ctx, msg, job{
		kind:         admission.KindEdit,
		prompt:       caption + editSuffix,
		display:      caption,
		sourceFileID: msg.PhotoFileID,
	})
}

func enhancementJob() job {
	return job{kind: admission.KindEnhancement, prompt: enhancementPrompt, display: "Image Enhancement"}
}

func (h *Handler) enhance(ctx context.Context, msg Message) error {
	j := enhancementJob()
	switch {
	case msg.ReplyPhotoFileID != "":
		j.sourceFileID = msg.ReplyPhotoFileID
	default:
		latest, err := h.store.LatestUserImage(ctx, msg.From.ID)
		if err != nil {
			return err
		}
		if latest == nil {
			return h.reply(ctx, msg, textEnhanceUsage)
		}
		j.sourceRef = latest.ImageURL
	}
	return h.submit(ctx, msg, j)
}

// regenerate reruns the prompt of a finished generation.
func (h *Handler) regenerate(ctx context.Context, msg Message, taskID string) error {
	rec, err := h.store.GetTaskRecord(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if rec == nil || rec.Prompt == "" {
		return h.reply(ctx, msg, textResultExpired)
	}
	return h.submit(ctx, msg, job{kind: admission.KindGeneration, prompt: rec.Prompt, display: rec.Prompt})
}

// enhanceResult enhances the image a finished task delivered.
func (h *Handler) enhanceResult(ctx context.Context, msg Message, taskID string) error {
	rec, err := h.store.GetTaskRecord(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if rec == nil || rec.ResultURL == "" {
		return h.reply(ctx, msg, textResultExpired)
	}
	j := enhancementJob()
	j.sourceRef = rec.ResultURL
	return h.submit(ctx, msg, j)
}

func (h *Handler) history(ctx context.Context, msg Message) error {
	images, err := h.store.ListUserImages(ctx, msg.From.ID, store.DefaultImageLimit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(images) == 0 {
		return h.reply(ctx, msg, textNoHistory)
	}
	return h.reply(ctx, msg, historyText(images))
}

func (h *Handler) settings(ctx context.Context, msg Message) error {
	user, err := h.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	snap := h.coord.Stats(requestorOf(msg.From))
	return h.reply(ctx, msg, settingsText(user, snap, h.opts.MaxRequestsPerMinute))
}

func (h *Handler) status(ctx context.Context, msg Message) error {
	tasks := h.coord.ListActive(requestorOf(msg.From))
	if len(tasks) == 0 {
		return h.reply(ctx, msg, textNoActive)
	}
	return h.reply(ctx, msg, activeText(tasks, time.Now().UTC()))
}

// submit admits the job and starts it in the background. Admission
// rejections are answered here; everything after admission is reported by
// the task itself.
func (h *Handler) submit(ctx context.Context, msg Message, j job) error {
	if _, err := h.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	_, err := h.coord.Go(h.opts.WorkContext, requestorOf(msg.From),
		func(taskCtx context.Context, task admission.TaskHandle) error {
			return h.runTask(taskCtx, msg, j, task)
		},
		admission.WithKind(j.kind),
		admission.WithPrompt(j.display))

	var rejected *admission.AdmissionError
	if errors.As(err, &rejected) {
		return h.reply(ctx, msg, rejectionText(rejected, h.opts.MaxRequestsPerMinute, h.opts.MaxActiveTasks))
	}
	return err
}
