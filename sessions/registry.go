package sessions

import (
	"log"
	"sync"
	"time"
)

// Registry is the single shared store of live sessions. The index map is
// guarded by mu; each session guards its own mutable fields, so operations on
// different sessions never contend.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	directory Directory

	now func() time.Time
}

func NewRegistry(directory Directory) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		directory: directory,
		now:       time.Now,
	}
}

// CreateSession makes a new session owned by lecturerID. If the lecturer
// already owns a session that has not been started, that session is returned
// instead (created=false) unless replaceExisting is set, in which case the
// old session is discarded outright.
func (r *Registry) CreateSession(lecturerID, title string, departments, levels []string, replaceExisting bool) (*Session, bool, error) {
	if lecturerID == "" {
		return nil, false, ErrInvalidInput
	}
	if !r.directory.IsLecturer(lecturerID) {
		return nil, false, ErrUnknownLecturer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sess := range r.sessions {
		if sess.LecturerID != lecturerID || sess.Status() != SessionActive {
			continue
		}
		if !replaceExisting {
			return sess, false, nil
		}
		delete(r.sessions, id)
		break
	}

	sess := newSession(lecturerID, title, departments, levels, r.now())
	r.sessions[sess.SessionID] = sess
	log.Printf("Created session %s (%q) for lecturer %s", sess.SessionID, title, lecturerID)
	return sess, true, nil
}

// StartSession moves a session from Active to Started, stamps the scored
// window's start time, and seeds every current member's timeline with an
// Active event at that instant. Calling it on an already started session is a
// no-op.
func (r *Registry) StartSession(sessionID string) (*Session, error) {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.status {
	case SessionStarted:
		return sess, nil
	case SessionEnded, SessionCancelled:
		return nil, ErrSessionNotFound
	}

	now := r.now()
	sess.status = SessionStarted
	sess.startTime = now
	for id := range sess.participantIDs {
		tl := sess.timelineFor(id)
		tl.Append(ParticipantActive, now)
		sess.participantStatuses[id] = ParticipantActive
	}
	log.Printf("Session %s started with %d participants", sessionID, len(sess.participantIDs))
	return sess, nil
}

// JoinSession adds participantID to the session with the given live
// connection. Joining a session that already started backfills the absence
// interval: first-time joiners get a Disconnected event at the session start
// followed by an Active event at join time. A rejoiner already has their
// absence recorded at disconnect time, so only the Active event is appended.
func (r *Registry) JoinSession(sessionID, participantID, connectionID string) (*Session, error) {
	if sessionID == "" || participantID == "" {
		return nil, ErrInvalidInput
	}
	if connectionID == "" {
		return nil, ErrInvalidConnection
	}

	user, ok := r.directory.Resolve(participantID)
	if !ok {
		return nil, ErrInvalidUser
	}

	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if st := sess.Status(); st == SessionEnded || st == SessionCancelled {
		return nil, ErrSessionNotFound
	}

	if other := r.GetSessionByParticipant(participantID); other != nil && other.SessionID != sessionID {
		return nil, ErrAlreadyElsewhere
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.status != SessionActive && sess.status != SessionStarted {
		return nil, ErrSessionNotFound
	}
	if !user.IsLecturer() && !sess.eligible(user) {
		return nil, ErrIneligible
	}

	now := r.now()
	sess.participantIDs[participantID] = struct{}{}
	sess.participantConnIDs[participantID] = connectionID

	if sess.status == SessionStarted {
		tl := sess.timelineFor(participantID)
		if tl.Len() == 0 {
			tl.Append(ParticipantDisconnected, sess.startTime)
			tl.Append(ParticipantActive, now)
		} else if last, _ := tl.Last(); last.Status != ParticipantActive {
			tl.Append(ParticipantActive, now)
		}
	}
	sess.participantStatuses[participantID] = ParticipantActive

	log.Printf("Participant %s joined session %s", participantID, sessionID)
	return sess, nil
}

// LeaveSession removes a participant from membership. Their statuses and
// timeline are retained so they still appear in the attendance score.
func (r *Registry) LeaveSession(sessionID, participantID string) (*Session, error) {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.status != SessionActive && sess.status != SessionStarted {
		return nil, ErrSessionNotFound
	}
	if !sess.hasParticipant(participantID) {
		return nil, ErrInvalidUser
	}
	delete(sess.participantIDs, participantID)
	delete(sess.participantConnIDs, participantID)
	if sess.status == SessionStarted {
		sess.timelineFor(participantID).Append(ParticipantDisconnected, r.now())
		sess.participantStatuses[participantID] = ParticipantDisconnected
	} else {
		// Leaving a pending session erases the member entirely; they were
		// never part of the running class.
		delete(sess.participantStatuses, participantID)
	}
	return sess, nil
}

// EndSession terminates a started session. Only the owning lecturer may end
// it, and only from Started. Membership is kept so the recap stays computable.
func (r *Registry) EndSession(sessionID, lecturerID string) (*Session, error) {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.LecturerID != lecturerID {
		return nil, ErrNotOwner
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.status != SessionStarted {
		return nil, ErrNotStarted
	}
	sess.status = SessionEnded
	sess.endTime = r.now()
	log.Printf("Session %s ended by %s", sessionID, lecturerID)
	return sess, nil
}

// CancelSession discards a session that never started.
func (r *Registry) CancelSession(sessionID, lecturerID string) (*Session, error) {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.LecturerID != lecturerID {
		return nil, ErrNotOwner
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.status != SessionActive {
		return nil, ErrSessionNotFound
	}
	sess.status = SessionCancelled
	return sess, nil
}

// UpdateParticipantStatus records a status change and reports whether the
// change is scorable, i.e. whether it extended the timeline and the caller
// should re-broadcast scores. Changes on a session that has not started only
// move the current status; changes after the end are dropped.
func (r *Registry) UpdateParticipantStatus(sessionID, participantID string, status ParticipantStatus) bool {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	current, known := sess.participantStatuses[participantID]
	if !known && !sess.hasParticipant(participantID) {
		return false
	}
	if known && current == status {
		return false
	}

	switch sess.status {
	case SessionActive:
		sess.participantStatuses[participantID] = status
		return false
	case SessionStarted:
		if !sess.timelineFor(participantID).Append(status, r.now()) {
			return false
		}
		sess.participantStatuses[participantID] = status
		return true
	default:
		// Late event for an ended or cancelled session: drop it.
		return false
	}
}

// SetLecturerConnection records the lecturer's live connection handle. A
// reconnect overwrites the previous handle; it is never cleared explicitly.
func (r *Registry) SetLecturerConnection(sessionID, connectionID string) {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	sess.lecturerConnectionID = connectionID
	sess.mu.Unlock()
}

// GetSessionByID returns the session, or nil if unknown.
func (r *Registry) GetSessionByID(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// GetSessionsByLecturer returns the lecturer's sessions that are still
// pending or running.
func (r *Registry) GetSessionsByLecturer(lecturerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		if sess.LecturerID != lecturerID {
			continue
		}
		if st := sess.Status(); st == SessionActive || st == SessionStarted {
			out = append(out, sess)
		}
	}
	return out
}

// GetSessionByParticipant returns the pending or running session the
// participant is currently a member of, or nil.
func (r *Registry) GetSessionByParticipant(participantID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		sess.mu.Lock()
		member := (sess.status == SessionActive || sess.status == SessionStarted) && sess.hasParticipant(participantID)
		sess.mu.Unlock()
		if member {
			return sess
		}
	}
	return nil
}

// GetActiveSessions returns sessions that have been created but not started,
// the set a student can still discover and join.
func (r *Registry) GetActiveSessions() []*Session {
	return r.sessionsInStatus(SessionActive)
}

// GetLiveSessions returns sessions the liveness probe must sweep: pending and
// running ones.
func (r *Registry) GetLiveSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		if st := sess.Status(); st == SessionActive || st == SessionStarted {
			out = append(out, sess)
		}
	}
	return out
}

func (r *Registry) sessionsInStatus(status SessionStatus) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		if sess.Status() == status {
			out = append(out, sess)
		}
	}
	return out
}

// GetParticipants maps member ids to display names via the directory.
// Unresolvable ids fall back to the raw id rather than disappearing.
func (r *Registry) GetParticipants(sessionID string) map[string]string {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return map[string]string{}
	}

	info := sess.Info()
	names := make(map[string]string, len(info.ParticipantIDs))
	for _, id := range info.ParticipantIDs {
		if user, ok := r.directory.Resolve(id); ok {
			names[id] = user.Name
		} else {
			names[id] = id
		}
	}
	return names
}

// GetParticipantStatuses returns a copy of the current status map.
func (r *Registry) GetParticipantStatuses(sessionID string) map[string]ParticipantStatus {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return map[string]ParticipantStatus{}
	}
	return sess.Info().Statuses
}

// timelineFor returns the participant's timeline, creating it on first use.
// Caller must hold sess.mu.
func (s *Session) timelineFor(participantID string) *Timeline {
	tl, ok := s.participantEvents[participantID]
	if !ok {
		tl = &Timeline{}
		s.participantEvents[participantID] = tl
	}
	return tl
}
