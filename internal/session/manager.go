package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/vistaar/internal/vistaar"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidLocation     = errors.New("invalid location")
	ErrEnded               = errors.New("session has ended")
)

type Session struct {
	ID               string            `json:"session_id"`
	UserID           string            `json:"user_id"`
	Status           Status            `json:"status"`
	Language         string            `json:"language"`
	Location         *vistaar.Location `json:"location,omitempty"`
	ActiveQuestionID string            `json:"active_question_id"`
	QuestionCount    int               `json:"question_count"`
	StartedAt        time.Time         `json:"started_at"`
	LastActivityAt   time.Time         `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	defaultLanguage   string
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, defaultLanguage string) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	if !ValidLanguage(defaultLanguage) {
		defaultLanguage = DefaultLanguage
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		defaultLanguage:   defaultLanguage,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create starts a session. An empty language selects the default.
func (m *Manager) Create(req CreateRequest) (*Session, error) {
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = m.defaultLanguage
	}
	if !ValidLanguage(lang) {
		return nil, ErrUnsupportedLanguage
	}
	if err := validLocation(req.Location); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Language:       lang,
		Location:       copyLocation(req.Location),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if req.UserID != "" {
		m.sessionByUser[req.UserID] = s.ID
	}
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Language returns the UI language of the session, or the default when the
// session is unknown.
func (m *Manager) Language(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.Language
	}
	return m.defaultLanguage
}

// Location returns a copy of the session location, if any.
func (m *Manager) Location(sessionID string) *vistaar.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[sessionID]; ok {
		return copyLocation(s.Location)
	}
	return nil
}

func (m *Manager) SetLanguage(sessionID, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !ValidLanguage(lang) {
		return ErrUnsupportedLanguage
	}
	return m.update(sessionID, func(s *Session) { s.Language = lang })
}

func (m *Manager) SetLocation(sessionID string, loc *vistaar.Location) error {
	if err := validLocation(loc); err != nil {
		return err
	}
	return m.update(sessionID, func(s *Session) { s.Location = copyLocation(loc) })
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

// StartQuestion marks questionID as the session's active question. Ended
// sessions return ErrEnded and are left unchanged.
func (m *Manager) StartQuestion(sessionID, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	s.ActiveQuestionID = questionID
	s.QuestionCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// FinishQuestion clears the active question if it is still questionID.
func (m *Manager) FinishQuestion(sessionID, questionID string) error {
	return m.update(sessionID, func(s *Session) {
		if s.ActiveQuestionID == questionID {
			s.ActiveQuestionID = ""
		}
	})
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveQuestionID = ""
	s.LastActivityAt = time.Now().UTC()
	if s.UserID != "" {
		delete(m.sessionByUser, s.UserID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveQuestionID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func validLocation(loc *vistaar.Location) error {
	if loc == nil {
		return nil
	}
	if math.IsNaN(loc.Latitude) || math.IsNaN(loc.Longitude) ||
		loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return ErrInvalidLocation
	}
	return nil
}

func copyLocation(loc *vistaar.Location) *vistaar.Location {
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}

func clone(s *Session) *Session {
	c := *s
	c.Location = copyLocation(s.Location)
	return &c
}
