package session

import (
	"time"

	"github.com/antoniostano/vistaar/internal/vistaar"
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID   string            `json:"user_id"`
	Language string            `json:"language"`
	Location *vistaar.Location `json:"location,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	Status          Status            `json:"status"`
	Language        string            `json:"language"`
	Location        *vistaar.Location `json:"location,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	InactivityTTLMS int64             `json:"inactivity_ttl_ms"`
}

// UI languages the client renders and requests answers in.
var uiLanguages = map[string]bool{"en": true, "hi": true, "mr": true}

const DefaultLanguage = "mr"

// ValidLanguage reports whether code is a supported UI language.
func ValidLanguage(code string) bool { return uiLanguages[code] }
