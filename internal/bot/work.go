package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/ailink"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/ailink/driver/bfl"
	"github.com/pixelbot/pixelbot/internal/core"
	"github.com/pixelbot/pixelbot/internal/imaging"
	"github.com/pixelbot/pixelbot/internal/metrics"
)

// maxSourceEdge bounds the longer side of a source image before it is sent
// to the provider.
const maxSourceEdge = 1024

// job is one admitted chat request.
type job struct {
	kind admission.Kind
	// prompt goes to the provider, display is what the user typed.
	prompt  string
	display string
	// sourceFileID or sourceRef names the input image for edits and
	// enhancements.
	sourceFileID string
	sourceRef    string
}

// runTask is the body of an admitted task. Its error becomes the task
// outcome; the chat is informed here so the caller only sees the result.
func (h *Handler) runTask(ctx context.Context, msg Message, j job, task admission.TaskHandle) error {
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}
	logger := taskLogger{h.logger, []zap.Field{zap.String("task_id", string(task.ID)), zap.String("kind", string(j.kind))}}

	statusID, err := h.msgr.Send(ctx, msg.ChatID, statusText(j.kind, j.display, stageQueued))
	if err != nil {
		logger.Warn("Status message failed", zap.Error(err))
	}

	h.persist(ctx, logger, func(ctx context.Context) error {
		return h.store.SaveTaskRecord(ctx, &core.TaskRecord{
			TaskID:   string(task.ID),
			UserID:   msg.From.ID,
			TaskType: core.ImageType(j.kind),
			Status:   string(admission.StatusRunning),
			Prompt:   j.display,
		})
	})

	resultRef, err := h.produce(ctx, msg, j, task.ID, statusID)
	// Final bookkeeping outlives the task deadline.
	done := context.WithoutCancel(ctx)
	if err != nil {
		logger.Warn("Task failed", zap.Error(err))
		h.persist(done, logger, func(ctx context.Context) error {
			return h.store.UpdateTaskStatus(ctx, string(task.ID), string(admission.StatusFailed), "", err.Error())
		})
		h.showStatus(done, logger, msg.ChatID, statusID, failureMessage(j.kind, err))
		return err
	}

	h.persist(done, logger, func(ctx context.Context) error {
		return h.store.UpdateTaskStatus(ctx, string(task.ID), string(admission.StatusSucceeded), resultRef, "")
	})
	h.persist(done, logger, func(ctx context.Context) error {
		_, err := h.store.SaveImageRecord(ctx, &core.ImageRecord{
			UserID:    msg.From.ID,
			Prompt:    j.display,
			ImageURL:  resultRef,
			TaskID:    string(task.ID),
			ImageType: core.ImageType(j.kind),
			Metadata: map[string]any{
				"provider": h.gen.Name(),
				"width":    h.opts.Width,
				"height":   h.opts.Height,
			},
		})
		return err
	})
	h.persist(done, logger, func(ctx context.Context) error {
		return h.store.IncrementUsageStat(ctx, msg.From.ID, core.StatForType(core.ImageType(j.kind)))
	})
	return nil
}

// produce runs the generation and delivers the photo with its follow-up
// buttons. It returns the stored reference of the delivered image.
func (h *Handler) produce(ctx context.Context, msg Message, j job, id admission.TaskID, statusID int) (string, error) {
	req := &driver.ImageRequest{
		Prompt: j.prompt,
		Width:  h.opts.Width,
		Height: h.opts.Height,
	}
	if j.sourceFileID != "" || j.sourceRef != "" {
		data, err := h.sourceImage(ctx, j)
		if err != nil {
			return "", err
		}
		req.InputImage = data
	}

	h.showStatus(ctx, h.logger, msg.ChatID, statusID, statusText(j.kind, j.display, stageProcessing))

	started := time.Now()
	resp, err := h.gen.GenerateImage(ctx, req)
	metrics.RecordGeneration(h.gen.Name(), err == nil, time.Since(started))
	if err != nil {
		return "", err
	}
	block, ok := resp.First()
	if !ok {
		return "", errors.New("provider returned no image")
	}

	photo := Photo{Name: "image." + extension(resp.OutputFormat)}
	if block.IsURL() {
		photo.URL = block.Text
	} else {
		photo.Data = block.Data
	}
	ref, err := h.msgr.SendPhoto(ctx, msg.ChatID, photo, captionFor(j.kind, j.display), resultKeyboard(j.kind, id))
	if err != nil {
		return "", fmt.Errorf("deliver image: %w", err)
	}
	if statusID != 0 {
		if err := h.msgr.Delete(ctx, msg.ChatID, statusID); err != nil {
			h.logger.Debug("Status message cleanup failed", zap.Error(err))
		}
	}
	return ref, nil
}

// sourceImage fetches, validates and downsizes the input image.
func (h *Handler) sourceImage(ctx context.Context, j job) ([]byte, error) {
	url := j.sourceRef
	fileID := j.sourceFileID
	if id, ok := parseFileRef(j.sourceRef); ok {
		fileID = id
	}
	if fileID != "" {
		resolved, err := h.msgr.FileURL(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("resolve source image: %w", err)
		}
		url = resolved
	}

	data, err := h.images.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := h.images.Validate(data); err != nil {
		return nil, err
	}
	resized, _, err := h.images.Resize(data, maxSourceEdge, maxSourceEdge)
	if err != nil {
		return nil, err
	}
	return resized, nil
}

func (h *Handler) showStatus(ctx context.Context, logger admission.Logger, chatID int64, messageID int, text string) {
	if messageID == 0 {
		if _, err := h.msgr.Send(ctx, chatID, text); err != nil {
			logger.Warn("Status message failed", zap.Error(err))
		}
		return
	}
	if err := h.msgr.Edit(ctx, chatID, messageID, text); err != nil {
		logger.Debug("Status edit failed", zap.Error(err))
	}
}

// persist runs a store write whose failure must not fail the task.
func (h *Handler) persist(ctx context.Context, logger admission.Logger, write func(context.Context) error) {
	if err := write(ctx); err != nil {
		logger.Warn("Task bookkeeping failed", zap.Error(err))
	}
}

func failureMessage(kind admission.Kind, err error) string {
	var jobErr *bfl.JobError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, bfl.ErrPollTimeout):
		return textTimeout
	case errors.Is(err, driver.ErrModerated):
		return failureText(kind, "Your request was flagged by content moderation.\n\nPlease try with a different prompt.")
	case errors.As(err, &jobErr):
		return failureText(kind, fmt.Sprintf("Error: %s\n\nPlease try with a different prompt.", jobErr.Status))
	case errors.Is(err, ailink.ErrProviderBusy), errors.Is(err, driver.ErrProviderRateLimited):
		return failureText(kind, "The image service is busy right now. Please try again in a minute.")
	case errors.Is(err, driver.ErrInsufficientCredits):
		return failureText(kind, "The image service is temporarily unavailable. Please try again later.")
	case errors.Is(err, imaging.ErrTooLarge), errors.Is(err, imaging.ErrUnsupportedFormat), errors.Is(err, imaging.ErrInvalidImage):
		return failureText(kind, fmt.Sprintf("⚠️ %v", err))
	default:
		return failureText(kind, "An unexpected error occurred. Please try again later.")
	}
}

func extension(format string) string {
	switch format {
	case "", "jpeg":
		return "jpg"
	default:
		return format
	}
}

// taskLogger stamps task fields onto every entry.
type taskLogger struct {
	admission.Logger
	fields []zap.Field
}

func (l taskLogger) Debug(msg string, fields ...zap.Field) {
	l.Logger.Debug(msg, append(l.fields, fields...)...)
}

func (l taskLogger) Info(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, append(l.fields, fields...)...)
}

func (l taskLogger) Warn(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, append(l.fields, fields...)...)
}

func (l taskLogger) Error(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(l.fields, fields...)...)
}
