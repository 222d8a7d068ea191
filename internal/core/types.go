// Package core holds the records the bot persists about users, generated
// images and tasks.
package core

import "time"

// ImageType classifies how an image was produced.
type ImageType string

const (
	ImageTypeGeneration  ImageType = "generation"
	ImageTypeEdit        ImageType = "edit"
	ImageTypeEnhancement ImageType = "enhancement"
)

// Usage counters tracked per user.
const (
	StatTotalGenerations  = "total_generations"
	StatTotalEdits        = "total_edits"
	StatTotalEnhancements = "total_enhancements"
)

// StatForType maps an image type to the usage counter it bumps.
func StatForType(t ImageType) string {
	switch t {
	case ImageTypeEdit:
		return StatTotalEdits
	case ImageTypeEnhancement:
		return StatTotalEnhancements
	default:
		return StatTotalGenerations
	}
}

// Preferences are per-user generation defaults.
type Preferences struct {
	DefaultStyle  string `json:"default_style"`
	ImageQuality  string `json:"image_quality"`
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences returns the preferences given to new users.
func DefaultPreferences() Preferences {
	return Preferences{
		DefaultStyle:  "realistic",
		ImageQuality:  "high",
		Notifications: true,
	}
}

// UsageStats counts what a user has done with the bot.
type UsageStats struct {
	TotalGenerations  int        `json:"total_generations"`
	TotalEdits        int        `json:"total_edits"`
	TotalEnhancements int        `json:"total_enhancements"`
	LastUsed          *time.Time `json:"last_used,omitempty"`
}

// Bump increments the named counter and stamps LastUsed. Unknown names only
// update LastUsed.
func (u *UsageStats) Bump(stat string, at time.Time) {
	switch stat {
	case StatTotalGenerations:
		u.TotalGenerations++
	case StatTotalEdits:
		u.TotalEdits++
	case StatTotalEnhancements:
		u.TotalEnhancements++
	}
	at = at.UTC()
	u.LastUsed = &at
}

// User is a chat user known to the bot.
type User struct {
	TelegramID  int64       `json:"telegram_id"`
	Username    string      `json:"username,omitempty"`
	FirstName   string      `json:"first_name,omitempty"`
	LastName    string      `json:"last_name,omitempty"`
	Preferences Preferences `json:"preferences"`
	UsageStats  UsageStats  `json:"usage_stats"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ImageRecord is a generated or edited image delivered to a user.
type ImageRecord struct {
	ID        int64          `json:"id,omitempty"`
	UserID    int64          `json:"user_id"`
	Prompt    string         `json:"prompt"`
	ImageURL  string         `json:"image_url"`
	TaskID    string         `json:"task_id"`
	ImageType ImageType      `json:"image_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskRecord is the persisted history of one admitted task.
type TaskRecord struct {
	TaskID       string    `json:"task_id"`
	UserID       int64     `json:"user_id"`
	TaskType     ImageType `json:"task_type"`
	Status       string    `json:"status"`
	Prompt       string    `json:"prompt,omitempty"`
	ResultURL    string    `json:"result_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
