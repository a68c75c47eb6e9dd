package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"futameet/directory"
	"futameet/messages"
	"futameet/sessions"
)

type SessionController struct {
	Registry  *sessions.Registry
	Directory *directory.Store
	Board     *messages.Board
}

// statusForRegistryError maps the registry's reason errors onto HTTP codes.
// Ineligible and Conflict travel back to the caller as user-facing reasons.
func statusForRegistryError(err error) int {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, sessions.ErrIneligible), errors.Is(err, sessions.ErrAlreadyElsewhere):
		return http.StatusConflict
	case errors.Is(err, sessions.ErrUnknownLecturer), errors.Is(err, sessions.ErrInvalidUser):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// CreateSession handles the creation of a new session by a lecturer.
func (s *SessionController) CreateSession(c *gin.Context) {
	var input struct {
		Title              string   `json:"title" binding:"required"`
		AllowedDepartments []string `json:"allowedDepartments"`
		AllowedLevels      []string `json:"allowedLevels"`
		ReplaceExisting    bool     `json:"replaceExisting"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lecturerID := c.GetString("userID")
	sess, created, err := s.Registry.CreateSession(lecturerID, input.Title, input.AllowedDepartments, input.AllowedLevels, input.ReplaceExisting)
	if err != nil {
		c.JSON(statusForRegistryError(err), gin.H{"error": err.Error()})
		return
	}

	if !created {
		// The lecturer already owns a pending session; let them decide
		// whether to keep it or retry with replaceExisting.
		c.JSON(http.StatusOK, gin.H{
			"message":  "You already have a pending session",
			"session":  sess.Info(),
			"existing": true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session created successfully", "session": sess.Info()})
}

// JoinSession allows a student to register for a session over HTTP, before
// their websocket attaches. The connection handle is replaced once the socket
// arrives.
func (s *SessionController) JoinSession(c *gin.Context) {
	var input struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	sess, err := s.Registry.JoinSession(input.SessionID, userID, "http-"+userID)
	if err != nil {
		c.JSON(statusForRegistryError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully joined the session", "session": sess.Info()})
}

// LeaveSession removes the caller from a session.
func (s *SessionController) LeaveSession(c *gin.Context) {
	var input struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if _, err := s.Registry.LeaveSession(input.SessionID, userID); err != nil {
		c.JSON(statusForRegistryError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left the session"})
}

// EndSession lets the owning lecturer end a started session.
func (s *SessionController) EndSession(c *gin.Context) {
	sessionID := c.Param("id")
	lecturerID := c.GetString("userID")

	sess, err := s.Registry.EndSession(sessionID, lecturerID)
	if err != nil {
		c.JSON(statusForRegistryError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session ended", "session": sess.Info()})
}

// CancelSession discards a session that never started.
func (s *SessionController) CancelSession(c *gin.Context) {
	sessionID := c.Param("id")
	lecturerID := c.GetString("userID")

	if _, err := s.Registry.CancelSession(sessionID, lecturerID); err != nil {
		c.JSON(statusForRegistryError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session cancelled"})
}

// GetActiveSessions lists pending sessions the caller is eligible to join.
func (s *SessionController) GetActiveSessions(c *gin.Context) {
	userID := c.GetString("userID")
	user, ok := s.Directory.Resolve(userID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}

	var out []sessions.SessionInfo
	for _, sess := range s.Registry.GetActiveSessions() {
		info := sess.Info()
		if user.IsLecturer() || eligibleFor(info, user.Department, user.Level) {
			out = append(out, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func eligibleFor(info sessions.SessionInfo, department, level string) bool {
	return containsOrAny(info.AllowedDepartments, department) && containsOrAny(info.AllowedLevels, level)
}

func containsOrAny(allowed []string, value string) bool {
	for _, a := range allowed {
		if a == "Any" || a == value {
			return true
		}
	}
	return false
}

// GetMySessions lists the caller's pending or running sessions: owned ones
// for a lecturer, the joined one for a student.
func (s *SessionController) GetMySessions(c *gin.Context) {
	userID := c.GetString("userID")

	var out []sessions.SessionInfo
	for _, sess := range s.Registry.GetSessionsByLecturer(userID) {
		out = append(out, sess.Info())
	}
	if sess := s.Registry.GetSessionByParticipant(userID); sess != nil {
		out = append(out, sess.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GetSessionDetails fetches one session with its participants and statuses.
func (s *SessionController) GetSessionDetails(c *gin.Context) {
	sessionID := c.Param("id")

	sess := s.Registry.GetSessionByID(sessionID)
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":      sess.Info(),
		"participants": s.Registry.GetParticipants(sessionID),
	})
}

// GetSessionRecap assembles the after-session report: per-participant score
// breakdowns, aggregate stats and the discussion timeline. Only available
// once the session ended.
func (s *SessionController) GetSessionRecap(c *gin.Context) {
	sessionID := c.Param("id")

	sess := s.Registry.GetSessionByID(sessionID)
	if sess == nil || sess.Status() != sessions.SessionEnded {
		c.JSON(http.StatusNotFound, gin.H{"error": "No recap available for this session"})
		return
	}

	scores := s.Registry.CalculateAttendanceScore(sessionID)

	average := 0.0
	above70 := 0
	penaltyCounts := map[string]int{}
	for _, details := range scores {
		average += details.FinalScorePercentage
		if details.FinalScorePercentage >= 70 {
			above70++
		}
		if details.TimeInactiveMinutes > 0 {
			penaltyCounts["Inactive"]++
		}
		if details.TimeBatteryLowMinutes > 0 {
			penaltyCounts["Battery Low"]++
		}
		if details.TimeDataFinishedMinutes > 0 {
			penaltyCounts["Data Finished"]++
		}
		if details.TimeDisconnectedMinutes > 0 {
			penaltyCounts["Disconnected"]++
		}
	}
	if len(scores) > 0 {
		average /= float64(len(scores))
	}
	mostCommonPenalty := "N/A"
	best := 0
	for reason, count := range penaltyCounts {
		if count > best {
			best = count
			mostCommonPenalty = reason
		}
	}

	type timelineEntry struct {
		Timestamp   time.Time `json:"timestamp"`
		Description string    `json:"description"`
	}
	var timeline []timelineEntry
	if msgs, err := s.Board.Messages(sessionID); err == nil {
		for _, msg := range msgs {
			verb := "commented"
			if msg.IsPost() {
				verb = "posted"
			}
			timeline = append(timeline, timelineEntry{
				Timestamp:   msg.CreatedAt,
				Description: msg.UserID + " " + verb + ": " + msg.Content,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"session":                 sess.Info(),
		"scores":                  scores,
		"averageAttendanceScore":  average,
		"participantsAbove70":     above70,
		"mostCommonPenaltyReason": mostCommonPenalty,
		"timeline":                timeline,
	})
}
