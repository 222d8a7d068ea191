package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/core"
)

const (
	minPromptLen = 3
	maxPromptLen = 500

	editSuffix        = ", high quality, detailed"
	enhancementPrompt = "high quality, detailed, professional, enhanced, 4k resolution"

	historyShown       = 5
	historyPromptWidth = 50
)

const welcomeText = `🎨 Welcome to AI Image Generator Bot!

I can help you create images using AI. Here's what I can do:

Commands:
• /generate <prompt> - Generate images from text
• /enhance - Enhance image quality (reply to an image)
• /history - View your recent generations
• /settings - View your preferences and limits
• /status - Show your running tasks
• /help - Show this help message

Quick start: just send me a description like "a beautiful sunset over mountains".
Or send me an image with a caption and I'll edit it!`

// Button payloads. Result buttons carry the task id; the prompt would not
// fit the 64 byte callback data limit.
const (
	dataQuickGenerate    = "quick_generate"
	dataExamples         = "examples"
	dataHelp             = "help"
	dataSettings         = "settings"
	dataRegeneratePrefix = "regenerate:"
	dataEnhancePrefix    = "enhance:"
)

var (
	welcomeKeyboard = Keyboard{
		{{Text: "🎨 Generate Image", Data: dataQuickGenerate}},
		{{Text: "📖 Help", Data: dataHelp}, {Text: "⚙️ Settings", Data: dataSettings}},
	}
	helpKeyboard = Keyboard{
		{{Text: "🎨 Try Generate", Data: dataQuickGenerate}},
		{{Text: "📖 Examples", Data: dataExamples}},
	}
)

// resultKeyboard is attached to a delivered image. Only generations can be
// rerun from their prompt alone.
func resultKeyboard(kind admission.Kind, id admission.TaskID) Keyboard {
	enhance := Button{Text: "✨ Enhance", Data: dataEnhancePrefix + string(id)}
	if kind != admission.KindGeneration {
		return Keyboard{{enhance}}
	}
	return Keyboard{
		{{Text: "🔄 Generate Again", Data: dataRegeneratePrefix + string(id)}},
		{enhance},
	}
}

func helpText(maxPerMinute, maxActive int, retention time.Duration) string {
	return fmt.Sprintf(`🤖 AI Image Generator Bot - Help

Commands:
• /start - Start the bot and see the welcome message
• /generate <prompt> - Generate images from a text description
• /enhance - Enhance image quality (reply to an image)
• /history - View your recent image generations
• /settings - View your preferences and usage
• /status - Show your running tasks
• /help - Show this help message

Tips for better results:
• Be specific and descriptive
• Include style keywords (realistic, artistic, cartoon, etc.)
• Mention lighting, colors and mood
• Keep prompts under %d characters

Limits:
• %d requests per minute
• %d concurrent generations
• Images expire after %s (download quickly!)`, maxPromptLen, maxPerMinute, maxActive, humanDuration(retention))
}

const (
	textGenerateUsage  = "Please provide a prompt!\n\nExample: /generate a beautiful sunset over mountains"
	textPromptTooShort = "Please provide a more detailed description for image generation!\n\nExample: a beautiful sunset over mountains"
	textEnhanceUsage   = "Please reply to an image with /enhance to improve its quality!"
	textNoHistory      = "📝 No History Found\n\nYou haven't generated any images yet!\nUse /generate <prompt> to create your first image."
	textNoActive       = "✅ No tasks running."
	textUnexpected     = "❌ Sorry, something went wrong. Please try again later."
	textUnknownCommand = "🤖 Unknown command. Use /help to see what I can do."
	textQuickGenerate  = "🎨 Quick Generate\n\nSend me a message describing what you want to create!\n\nExample: a beautiful sunset over mountains"
	textResultExpired  = "⌛ That image is no longer available. Send a new prompt to start again."
)

const examplesText = `🎨 Example Prompts

Nature & Landscapes:
• a serene mountain lake at sunset with reflection
• mystical forest with glowing mushrooms and fairy lights
• desert oasis with palm trees and clear blue water

Characters & People:
• friendly robot character in colorful cartoon style
• elegant woman in Victorian dress, oil painting style
• wise old wizard with long beard and magical staff

Architecture & Cities:
• futuristic cyberpunk city with neon lights at night
• cozy cottage in English countryside with garden
• ancient temple ruins covered in jungle vines

Abstract & Artistic:
• swirling galaxies in deep space, cosmic art style
• geometric patterns in vibrant rainbow colors
• watercolor painting of blooming cherry blossoms

Animals:
• majestic eagle soaring over mountain peaks
• cute cat wearing astronaut helmet in space
• colorful tropical fish swimming in coral reef

Try any of these or create your own! 🚀`

func textPromptTooLong(n int) string {
	return fmt.Sprintf("⚠️ Your prompt is too long! Please keep it under %d characters.\n\nCurrent length: %d characters", maxPromptLen, n)
}

// rejectionText distinguishes the two admission gates so users know whether
// waiting on their own budget or on the service will help.
func rejectionText(err *admission.AdmissionError, maxPerMinute, maxActive int) string {
	if err.Reason == admission.ReasonCapacity {
		return fmt.Sprintf("⏳ All %d generation slots are busy right now. Please try again shortly.", maxActive)
	}
	msg := fmt.Sprintf("⚠️ Rate limit exceeded. Max %d requests per minute.", maxPerMinute)
	if err.RetryAfter > 0 {
		msg += fmt.Sprintf(" Try again in %ds.", int(err.RetryAfter.Round(time.Second)/time.Second))
	} else {
		msg += " Please try again shortly."
	}
	return msg
}

func statusText(kind admission.Kind, prompt string, stage string) string {
	switch kind {
	case admission.KindEnhancement:
		return fmt.Sprintf("✨ Enhancing your image...\n\n%s", stage)
	case admission.KindEdit:
		return fmt.Sprintf("🎨 Editing your image...\n\nInstruction: %s\n%s", prompt, stage)
	default:
		return fmt.Sprintf("🎨 Generating your image...\n\nPrompt: %s\n%s", prompt, stage)
	}
}

const (
	stageQueued     = "⏳ This may take a few moments..."
	stageProcessing = "🔄 Processing... Please wait..."
)

func captionFor(kind admission.Kind, prompt string) string {
	switch kind {
	case admission.KindEnhancement:
		return "✨ Enhanced Image\n\nYour image has been enhanced!"
	case admission.KindEdit:
		return fmt.Sprintf("🎨 Edited Image\n\nInstruction: %s", prompt)
	default:
		return fmt.Sprintf("🎨 Generated Image\n\nPrompt: %s", prompt)
	}
}

func failureText(kind admission.Kind, reason string) string {
	title := "Generation Failed"
	switch kind {
	case admission.KindEnhancement:
		title = "Enhancement Failed"
	case admission.KindEdit:
		title = "Edit Failed"
	}
	return fmt.Sprintf("❌ %s\n\n%s", title, reason)
}

const textTimeout = "⏰ Generation Timeout\n\nThe generation is taking longer than expected. Please try again with a simpler prompt."

func historyText(images []core.ImageRecord) string {
	var b strings.Builder
	b.WriteString("📖 Your Recent Images\n\n")
	for i, img := range images {
		if i == historyShown {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n🕒 %s\n\n", i+1, truncate(img.Prompt, historyPromptWidth), img.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func settingsText(user *core.User, snap admission.Snapshot, maxPerMinute int) string {
	notifications := "❌"
	if user.Preferences.Notifications {
		notifications = "✅"
	}
	return fmt.Sprintf(`⚙️ Settings & Stats

Current Preferences:
• Default Style: %s
• Image Quality: %s
• Notifications: %s

Usage Statistics:
• Total Generations: %d
• Total Enhancements: %d
• Total Edits: %d

Rate Limits:
• Requests: %d/%d per minute
• Active Tasks: %d (service: %d/%d)`,
		user.Preferences.DefaultStyle, user.Preferences.ImageQuality, notifications,
		user.UsageStats.TotalGenerations, user.UsageStats.TotalEnhancements, user.UsageStats.TotalEdits,
		snap.Rate.Recent, maxPerMinute, snap.ActiveTasks, snap.ActiveSlots, snap.Capacity)
}

func activeText(tasks []admission.TaskHandle, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔄 Running tasks: %d\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&b, "\n• %s %s (%s)", task.Kind, truncate(task.Prompt, historyPromptWidth), now.Sub(task.CreatedAt).Round(time.Second))
	}
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width]) + "..."
}

func humanDuration(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
