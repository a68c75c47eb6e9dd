package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"futameet/messages"
	"futameet/sessions"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Envelope is the wire frame for every realtime message. Unused fields stay
// empty; Payload is carried opaque for signaling passthrough.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Target    string          `json:"target,omitempty"`
	PostID    string          `json:"postId,omitempty"`
	Content   string          `json:"content,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	IsActive  bool            `json:"isActive,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub is the fan-out layer: it maps physical connections to identities and
// session groups, routes the message vocabulary into the registry and the
// board, and pushes status/score updates back to the lecturer.
type Hub struct {
	registry  *sessions.Registry
	directory sessions.Directory
	board     *messages.Board

	mu       sync.RWMutex
	clients  map[string]*Client            // connection id -> client
	groups   map[string]map[string]*Client // session id -> connection id -> client

	seenMu   sync.RWMutex
	lastSeen map[string]time.Time // participant id -> last inbound frame
}

func NewHub(registry *sessions.Registry, directory sessions.Directory, board *messages.Board) *Hub {
	return &Hub{
		registry:  registry,
		directory: directory,
		board:     board,
		clients:   make(map[string]*Client),
		groups:    make(map[string]map[string]*Client),
		lastSeen:  make(map[string]time.Time),
	}
}

// HandleConnection upgrades an authenticated HTTP request to a websocket and
// starts the client's pumps.
func (h *Hub) HandleConnection(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: fmt.Sprintf("%v", userID),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.touch(client.UserID)

	go client.writePump()
	go client.readPump()
}

// route dispatches one inbound frame. Any frame from a participant counts as
// a liveness signal.
func (h *Hub) route(c *Client, data []byte) {
	h.touch(c.UserID)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(c, "malformed message")
		return
	}

	switch env.Type {
	case "StartSession":
		h.handleStartSession(c, env.SessionID)
	case "JoinSession":
		h.handleJoinSession(c, env.SessionID)
	case "LeaveSession":
		h.handleLeaveSession(c)
	case "EndSession":
		h.handleEndSession(c, env.SessionID)
	case "UpdateTabStatus":
		status := sessions.ParticipantInactive
		if env.IsActive {
			status = sessions.ParticipantActive
		}
		h.updateStatus(c, status)
	case "FlagIssue":
		h.handleFlagIssue(c, env.Reason)
	case "ConfirmActive":
		// The touch above already refreshed last-seen; recovering the
		// status heals a probe demotion.
		h.updateStatus(c, sessions.ParticipantActive)
	case "Signal":
		h.handleSignal(c, env)
	case "CreatePost":
		h.handleCreatePost(c, env)
	case "CreateComment":
		h.handleCreateComment(c, env)
	case "GetMessages":
		h.handleGetMessages(c, env.SessionID)
	default:
		h.sendError(c, "unknown message type")
	}
}

func (h *Hub) handleStartSession(c *Client, sessionID string) {
	sess := h.registry.GetSessionByID(sessionID)
	if sess == nil {
		h.sendError(c, sessions.ErrSessionNotFound.Error())
		return
	}

	if sess.LecturerID == c.UserID {
		if _, err := h.registry.StartSession(sessionID); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.joinGroup(c, sessionID)
		h.registry.SetLecturerConnection(sessionID, c.ID)
		h.Broadcast(sessionID, gin.H{"type": "SessionStarted", "sessionId": sessionID})
		h.pushLecturerUpdate(sessionID)
		return
	}

	// A participant attaching (or re-attaching) their socket to a session
	// they already joined.
	h.joinGroup(c, sessionID)
	h.sendJSON(c, gin.H{"type": "StartSession", "sessionId": sessionID})
}

func (h *Hub) handleJoinSession(c *Client, sessionID string) {
	sess, err := h.registry.JoinSession(sessionID, c.UserID, c.ID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.joinGroup(c, sessionID)
	if sess.LecturerID == c.UserID {
		h.registry.SetLecturerConnection(sessionID, c.ID)
	}
	h.sendJSON(c, gin.H{
		"type":         "JoinSession",
		"sessionId":    sessionID,
		"participants": h.registry.GetParticipants(sessionID),
	})
	h.pushLecturerUpdate(sessionID)
}

func (h *Hub) handleLeaveSession(c *Client) {
	sessionID := h.leaveGroup(c)
	if sessionID == "" {
		return
	}
	if _, err := h.registry.LeaveSession(sessionID, c.UserID); err != nil {
		log.Printf("Leave session %s failed for %s: %v", sessionID, c.UserID, err)
		return
	}
	h.pushLecturerUpdate(sessionID)
}

func (h *Hub) handleEndSession(c *Client, sessionID string) {
	if sessionID == "" {
		sessionID = h.clientSession(c)
	}
	if _, err := h.registry.EndSession(sessionID, c.UserID); err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.Broadcast(sessionID, gin.H{
		"type":      "SessionEnded",
		"sessionId": sessionID,
		"scores":    h.registry.CalculateAttendanceScore(sessionID),
	})
}

func (h *Hub) handleFlagIssue(c *Client, reason string) {
	switch reason {
	case "battery-low":
		h.updateStatus(c, sessions.ParticipantBatteryLow)
	case "data-finished":
		h.updateStatus(c, sessions.ParticipantDataFinished)
	default:
		h.sendError(c, "unknown issue reason")
	}
}

// updateStatus drives a participant status change through the registry and
// re-broadcasts scores to the lecturer when the change was scorable.
func (h *Hub) updateStatus(c *Client, status sessions.ParticipantStatus) {
	sessionID := h.clientSession(c)
	if sessionID == "" {
		return
	}
	if h.registry.UpdateParticipantStatus(sessionID, c.UserID, status) {
		h.pushLecturerUpdate(sessionID)
	}
}

// handleSignal forwards an opaque signaling payload (offer/answer/ICE/file
// chunk) to exactly one connection. The hub never inspects the payload.
func (h *Hub) handleSignal(c *Client, env Envelope) {
	h.mu.RLock()
	target := h.clients[env.Target]
	h.mu.RUnlock()
	if target == nil {
		log.Printf("Signal target %s not connected, dropping", env.Target)
		return
	}
	h.sendJSON(target, gin.H{
		"type":    "Signal",
		"from":    c.ID,
		"payload": env.Payload,
	})
}

func (h *Hub) handleCreatePost(c *Client, env Envelope) {
	sessionID := h.clientSession(c)
	if sessionID == "" {
		return
	}
	msg, err := h.board.CreatePost(sessionID, c.UserID, env.Content, h.directory.IsLecturer(c.UserID))
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.Broadcast(sessionID, gin.H{"type": "ReceivePost", "message": msg})
	h.sendJSON(c, gin.H{"type": "PostCreated", "postId": msg.ID})
}

func (h *Hub) handleCreateComment(c *Client, env Envelope) {
	sessionID := h.clientSession(c)
	if sessionID == "" {
		return
	}
	msg, err := h.board.CreateComment(sessionID, c.UserID, env.Content, env.PostID, h.directory.IsLecturer(c.UserID))
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.Broadcast(sessionID, gin.H{"type": "ReceiveComment", "message": msg})
}

func (h *Hub) handleGetMessages(c *Client, sessionID string) {
	if sessionID == "" {
		sessionID = h.clientSession(c)
	}
	msgs, err := h.board.Messages(sessionID)
	if err != nil {
		log.Println("Failed to load messages:", err)
		return
	}
	h.sendJSON(c, gin.H{"type": "ReceiveMessages", "messages": msgs})
}

// pushLecturerUpdate re-fetches current statuses and recomputed scores and
// pushes them to the lecturer's connection. With no lecturer connection known
// the push is skipped entirely; the next event retries implicitly.
func (h *Hub) pushLecturerUpdate(sessionID string) {
	sess := h.registry.GetSessionByID(sessionID)
	if sess == nil {
		return
	}
	connID := sess.LecturerConnection()
	if connID == "" {
		return
	}

	h.mu.RLock()
	lecturer := h.clients[connID]
	h.mu.RUnlock()
	if lecturer == nil {
		return
	}

	h.sendJSON(lecturer, gin.H{"type": "ReceiveParticipants", "participants": h.registry.GetParticipants(sessionID)})
	h.sendJSON(lecturer, gin.H{"type": "ReceiveParticipantStatuses", "statuses": h.registry.GetParticipantStatuses(sessionID)})
	h.sendJSON(lecturer, gin.H{"type": "ReceiveParticipantScoreDetails", "scores": h.registry.CalculateAttendanceScore(sessionID)})
}

// Broadcast sends one message to every connection in a session group.
func (h *Hub) Broadcast(sessionID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Println("Broadcast marshal error:", err)
		return
	}

	h.mu.RLock()
	group := make([]*Client, 0, len(h.groups[sessionID]))
	for _, client := range h.groups[sessionID] {
		group = append(group, client)
	}
	h.mu.RUnlock()

	for _, client := range group {
		h.enqueue(client, data)
	}
}

// Challenge fires a liveness challenge at one connection. Fire-and-forget:
// the reply, if any, arrives as a ConfirmActive frame.
func (h *Hub) Challenge(connectionID string) {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()
	if client != nil {
		h.sendJSON(client, gin.H{"type": "AreYouThere"})
	}
}

// LastSeen returns the last moment any frame arrived from the participant.
func (h *Hub) LastSeen(participantID string) (time.Time, bool) {
	h.seenMu.RLock()
	defer h.seenMu.RUnlock()
	last, ok := h.lastSeen[participantID]
	return last, ok
}

// NotifyLecturer lets the liveness probe trigger the same score push as a
// scorable status report.
func (h *Hub) NotifyLecturer(sessionID string) {
	h.pushLecturerUpdate(sessionID)
}

func (h *Hub) touch(participantID string) {
	h.seenMu.Lock()
	h.lastSeen[participantID] = time.Now()
	h.seenMu.Unlock()
}

// joinGroup puts the connection into the session's group. Joining is
// idempotent; a connection belongs to at most one group, so joining a new
// session leaves the old group first.
func (h *Hub) joinGroup(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.sessionID == sessionID {
		return
	}
	if c.sessionID != "" {
		delete(h.groups[c.sessionID], c.ID)
	}
	if h.groups[sessionID] == nil {
		h.groups[sessionID] = make(map[string]*Client)
	}
	h.groups[sessionID][c.ID] = c
	c.sessionID = sessionID
}

// leaveGroup removes the connection from its group and returns the session it
// belonged to.
func (h *Hub) leaveGroup(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionID := c.sessionID
	if sessionID != "" {
		delete(h.groups[sessionID], c.ID)
		c.sessionID = ""
	}
	return sessionID
}

func (h *Hub) clientSession(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.sessionID
}

// unregister tears a client down after its socket dropped. A participant's
// silent disconnect drives the same status path as an explicit report.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	sessionID := c.sessionID
	if sessionID != "" {
		delete(h.groups[sessionID], c.ID)
		c.sessionID = ""
	}
	h.mu.Unlock()
	close(c.send)

	if sessionID == "" {
		return
	}
	sess := h.registry.GetSessionByID(sessionID)
	if sess == nil {
		return
	}
	if sess.LecturerID == c.UserID {
		// Keep the stale handle; a lecturer reconnect overwrites it.
		return
	}
	log.Printf("Connection lost for participant %s in session %s", c.UserID, sessionID)
	if h.registry.UpdateParticipantStatus(sessionID, c.UserID, sessions.ParticipantDisconnected) {
		h.pushLecturerUpdate(sessionID)
	}
}

func (h *Hub) sendError(c *Client, reason string) {
	h.sendJSON(c, gin.H{"type": "Error", "reason": reason})
}

func (h *Hub) sendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Println("Marshal error:", err)
		return
	}
	h.enqueue(c, data)
}

// enqueue hands a frame to the client's writer without ever blocking the
// caller. A client whose buffer is full is lagging badly; the frame is
// dropped and the next push supersedes it.
func (h *Hub) enqueue(c *Client, data []byte) {
	defer func() {
		// The send channel closes on unregister; a concurrent push to a
		// dying client is dropped.
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		log.Printf("Dropping frame for slow connection %s", c.ID)
	}
}
