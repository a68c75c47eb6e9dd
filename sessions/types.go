package sessions

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"futameet/models"
)

// SessionStatus is the lifecycle state of a session.
// Active -> Started -> Ended, with Cancelled reachable from Active only.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionStarted   SessionStatus = "started"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// ParticipantStatus is the connectivity state a participant reports (or the
// probe infers) while a session runs.
type ParticipantStatus string

const (
	ParticipantActive       ParticipantStatus = "active"
	ParticipantInactive     ParticipantStatus = "inactive"
	ParticipantBatteryLow   ParticipantStatus = "battery-low"
	ParticipantDataFinished ParticipantStatus = "data-finished"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// IsWarning reports whether the status is advisory: the participant flagged a
// connectivity problem before (possibly) dropping off.
func (s ParticipantStatus) IsWarning() bool {
	return s == ParticipantBatteryLow || s == ParticipantDataFinished
}

var (
	ErrSessionNotFound   = errors.New("session not found or inactive")
	ErrInvalidUser       = errors.New("invalid user")
	ErrInvalidConnection = errors.New("invalid connection")
	ErrIneligible        = errors.New("you are not eligible to join this session")
	ErrAlreadyElsewhere  = errors.New("you are already in a different session")
	ErrUnknownLecturer   = errors.New("unknown lecturer")
	ErrNotOwner          = errors.New("only the session lecturer can do that")
	ErrNotStarted        = errors.New("session has not been started")
	ErrInvalidInput      = errors.New("invalid input")
)

// Directory resolves identities against the external user directory. The
// registry never stores users itself.
type Directory interface {
	Resolve(matricNo string) (*models.User, bool)
	IsLecturer(matricNo string) bool
}

// Session is one lecture instance. All mutable fields are guarded by mu;
// outside this package they are reached only through registry calls and the
// snapshot accessors below.
type Session struct {
	SessionID  string
	LecturerID string
	Title      string

	mu                   sync.Mutex
	lecturerConnectionID string
	status               SessionStatus
	startTime            time.Time
	endTime              time.Time
	allowedDepartments   []string
	allowedLevels        []string
	participantIDs       map[string]struct{}
	participantStatuses  map[string]ParticipantStatus
	participantConnIDs   map[string]string
	participantEvents    map[string]*Timeline
}

func newSession(lecturerID, title string, departments, levels []string, now time.Time) *Session {
	if len(departments) == 0 {
		departments = []string{models.Any}
	}
	if len(levels) == 0 {
		levels = []string{models.Any}
	}
	return &Session{
		SessionID:           generateSessionCode(now),
		LecturerID:          lecturerID,
		Title:               title,
		status:              SessionActive,
		startTime:           now,
		allowedDepartments:  departments,
		allowedLevels:       levels,
		participantIDs:      make(map[string]struct{}),
		participantStatuses: make(map[string]ParticipantStatus),
		participantConnIDs:  make(map[string]string),
		participantEvents:   make(map[string]*Timeline),
	}
}

// generateSessionCode builds the human-shareable session code, e.g.
// "20250901-KXQWKB".
func generateSessionCode(now time.Time) string {
	letters := make([]byte, 6)
	for i := range letters {
		letters[i] = byte('A' + rand.Intn(26))
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102"), letters)
}

// SessionInfo is a consistent point-in-time copy of a session, safe to hand
// to handlers and JSON encoders.
type SessionInfo struct {
	SessionID          string                       `json:"sessionId"`
	LecturerID         string                       `json:"lecturerId"`
	Title              string                       `json:"title"`
	Status             SessionStatus                `json:"status"`
	StartTime          time.Time                    `json:"startTime"`
	EndTime            time.Time                    `json:"endTime,omitempty"`
	AllowedDepartments []string                     `json:"allowedDepartments"`
	AllowedLevels      []string                     `json:"allowedLevels"`
	ParticipantIDs     []string                     `json:"participantIds"`
	LecturerConnection string                       `json:"-"`
	Statuses           map[string]ParticipantStatus `json:"participantStatuses"`
}

// Info returns a snapshot of the session under its lock.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.participantIDs))
	for id := range s.participantIDs {
		ids = append(ids, id)
	}
	statuses := make(map[string]ParticipantStatus, len(s.participantStatuses))
	for id, st := range s.participantStatuses {
		statuses[id] = st
	}
	return SessionInfo{
		SessionID:          s.SessionID,
		LecturerID:         s.LecturerID,
		Title:              s.Title,
		Status:             s.status,
		StartTime:          s.startTime,
		EndTime:            s.endTime,
		AllowedDepartments: append([]string(nil), s.allowedDepartments...),
		AllowedLevels:      append([]string(nil), s.allowedLevels...),
		ParticipantIDs:     ids,
		LecturerConnection: s.lecturerConnectionID,
		Statuses:           statuses,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LecturerConnection returns the lecturer's current connection handle, or ""
// if none is known.
func (s *Session) LecturerConnection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lecturerConnectionID
}

// MemberState pairs a participant with their current status and connection as
// observed at snapshot time. Used by the liveness probe.
type MemberState struct {
	ParticipantID string
	Status        ParticipantStatus
	ConnectionID  string
}

// MemberStates snapshots the current membership.
func (s *Session) MemberStates() []MemberState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]MemberState, 0, len(s.participantIDs))
	for id := range s.participantIDs {
		states = append(states, MemberState{
			ParticipantID: id,
			Status:        s.participantStatuses[id],
			ConnectionID:  s.participantConnIDs[id],
		})
	}
	return states
}

// hasParticipant reports membership. Caller must hold s.mu.
func (s *Session) hasParticipant(participantID string) bool {
	_, ok := s.participantIDs[participantID]
	return ok
}

// eligible checks the session's department/level filters against a user.
// The Any wildcard matches everything. Caller must hold s.mu.
func (s *Session) eligible(user *models.User) bool {
	return matchesFilter(s.allowedDepartments, user.Department) &&
		matchesFilter(s.allowedLevels, user.Level)
}

func matchesFilter(allowed []string, value string) bool {
	for _, a := range allowed {
		if a == models.Any || a == value {
			return true
		}
	}
	return false
}
