package sessions

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futameet/models"
)

type fakeDirectory struct {
	users map[string]*models.User
}

func (f *fakeDirectory) Resolve(matricNo string) (*models.User, bool) {
	u, ok := f.users[matricNo]
	return u, ok
}

func (f *fakeDirectory) IsLecturer(matricNo string) bool {
	u, ok := f.users[matricNo]
	return ok && u.IsLecturer()
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]*models.User{
		"Lec001": {Name: "Festus", MatricNo: "Lec001", Role: models.RoleLecturer},
		"Lec002": {Name: "Dr. Brown", MatricNo: "Lec002", Role: models.RoleLecturer},
		"123456": {Name: "Intisor", MatricNo: "123456", Role: models.RoleStudent, Department: "Software Engineering", Level: "300"},
		"654321": {Name: "Goodluck", MatricNo: "654321", Role: models.RoleStudent, Department: "Software Engineering", Level: "300"},
		"383012": {Name: "Umar", MatricNo: "383012", Role: models.RoleStudent, Department: "Mining Engineering", Level: "200"},
	}}
}

// testClock lets registry tests walk time forward deterministically.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *testClock) {
	r := NewRegistry(testDirectory())
	clock := newTestClock()
	r.now = clock.Now
	return r, clock
}

func TestCreateSessionUnknownLecturer(t *testing.T) {
	r, _ := newTestRegistry()

	_, _, err := r.CreateSession("nobody", "Lecture", nil, nil, false)
	assert.ErrorIs(t, err, ErrUnknownLecturer)

	_, _, err = r.CreateSession("123456", "Lecture", nil, nil, false)
	assert.ErrorIs(t, err, ErrUnknownLecturer)
}

func TestCreateSessionReturnsExisting(t *testing.T) {
	r, _ := newTestRegistry()

	first, created, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := r.CreateSession("Lec001", "Databases", nil, nil, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestCreateSessionReplaceExisting(t *testing.T) {
	r, _ := newTestRegistry()

	first, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)

	second, created, err := r.CreateSession("Lec001", "Databases", nil, nil, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// The replaced session is discarded, not transitioned.
	assert.Nil(t, r.GetSessionByID(first.SessionID))
}

func TestStartSessionSeedsTimelines(t *testing.T) {
	r, _ := newTestRegistry()

	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)

	started, err := r.StartSession(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionStarted, started.Status())

	sess.mu.Lock()
	events := sess.timelineFor("123456").Events()
	sess.mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, ParticipantActive, events[0].Status)
	assert.Equal(t, started.Info().StartTime, events[0].Timestamp)

	// Idempotent: a second start changes nothing.
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)
	sess.mu.Lock()
	assert.Equal(t, 1, sess.timelineFor("123456").Len())
	sess.mu.Unlock()
}

func TestJoinSessionValidation(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)

	_, err = r.JoinSession("missing", "123456", "conn-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = r.JoinSession(sess.SessionID, "ghost", "conn-1")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = r.JoinSession(sess.SessionID, "123456", "")
	assert.ErrorIs(t, err, ErrInvalidConnection)

	_, err = r.JoinSession("", "123456", "conn-1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestJoinSessionEligibilityFilters(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", []string{"Software Engineering"}, []string{"300"}, false)
	require.NoError(t, err)

	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	assert.NoError(t, err)

	// Wrong department and level.
	_, err = r.JoinSession(sess.SessionID, "383012", "conn-2")
	assert.ErrorIs(t, err, ErrIneligible)

	// The wildcard admits everyone.
	open, _, err := r.CreateSession("Lec002", "Open Lecture", []string{models.Any}, []string{models.Any}, false)
	require.NoError(t, err)
	_, err = r.JoinSession(open.SessionID, "383012", "conn-2")
	assert.NoError(t, err)
}

func TestJoinSessionConflict(t *testing.T) {
	r, _ := newTestRegistry()
	first, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	second, _, err := r.CreateSession("Lec002", "Databases", nil, nil, false)
	require.NoError(t, err)

	_, err = r.JoinSession(first.SessionID, "123456", "conn-1")
	require.NoError(t, err)

	_, err = r.JoinSession(second.SessionID, "123456", "conn-2")
	assert.ErrorIs(t, err, ErrAlreadyElsewhere)

	// Rejoining the same session is fine.
	_, err = r.JoinSession(first.SessionID, "123456", "conn-3")
	assert.NoError(t, err)
}

func TestJoinStartedSessionBackfillsAbsence(t *testing.T) {
	r, clock := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)

	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)
	startTime := sess.Info().StartTime

	clock.Advance(5 * time.Minute)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)

	sess.mu.Lock()
	events := sess.timelineFor("123456").Events()
	sess.mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, ParticipantDisconnected, events[0].Status)
	assert.Equal(t, startTime, events[0].Timestamp)
	assert.Equal(t, ParticipantActive, events[1].Status)
	assert.Equal(t, startTime.Add(5*time.Minute), events[1].Timestamp)
}

func TestRejoinAppendsActiveOnly(t *testing.T) {
	r, clock := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	require.True(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantDisconnected))

	clock.Advance(2 * time.Minute)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-2")
	require.NoError(t, err)

	sess.mu.Lock()
	events := sess.timelineFor("123456").Events()
	sess.mu.Unlock()
	// Active (start), Disconnected (drop), Active (rejoin) — the absence was
	// recorded at disconnect time, not backfilled from session start.
	require.Len(t, events, 3)
	assert.Equal(t, ParticipantDisconnected, events[1].Status)
	assert.Equal(t, ParticipantActive, events[2].Status)
}

func TestUpdateParticipantStatus(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)

	// Before start: current status moves, but nothing is scorable.
	assert.False(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantInactive))
	assert.Equal(t, ParticipantInactive, r.GetParticipantStatuses(sess.SessionID)["123456"])

	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	assert.True(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantBatteryLow))

	// Same status twice: the second call is a no-op and appends nothing.
	assert.False(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantBatteryLow))
	sess.mu.Lock()
	count := sess.timelineFor("123456").Len()
	sess.mu.Unlock()
	assert.Equal(t, 2, count) // start seed + battery low

	// Unknown participant.
	assert.False(t, r.UpdateParticipantStatus(sess.SessionID, "ghost", ParticipantActive))
	// Unknown session.
	assert.False(t, r.UpdateParticipantStatus("missing", "123456", ParticipantActive))
}

func TestEndSessionRequiresStartedAndOwner(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)

	// Ending from Active is refused.
	_, err = r.EndSession(sess.SessionID, "Lec001")
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	// Only the owner may end.
	_, err = r.EndSession(sess.SessionID, "Lec002")
	assert.ErrorIs(t, err, ErrNotOwner)

	ended, err := r.EndSession(sess.SessionID, "Lec001")
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, ended.Status())

	// Ending twice fails: the session is no longer Started.
	_, err = r.EndSession(sess.SessionID, "Lec001")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestEndSessionRetainsMembershipForScoring(t *testing.T) {
	r, clock := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = r.EndSession(sess.SessionID, "Lec001")
	require.NoError(t, err)

	assert.Contains(t, sess.Info().ParticipantIDs, "123456")
	scores := r.CalculateAttendanceScore(sess.SessionID)
	require.Contains(t, scores, "123456")
	assert.InDelta(t, 100, scores["123456"].FinalScorePercentage, 1e-9)

	// Late events for an ended session are dropped.
	assert.False(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantInactive))
}

func TestCancelSessionOnlyFromActive(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)

	_, err = r.CancelSession(sess.SessionID, "Lec002")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = r.CancelSession(sess.SessionID, "Lec001")
	require.NoError(t, err)
	assert.Equal(t, SessionCancelled, sess.Status())

	// A cancelled session cannot be started or joined.
	_, err = r.StartSession(sess.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLeaveSessionKeepsTimelineForScoring(t *testing.T) {
	r, clock := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = r.LeaveSession(sess.SessionID, "123456")
	require.NoError(t, err)

	assert.NotContains(t, sess.Info().ParticipantIDs, "123456")

	clock.Advance(10 * time.Minute)
	_, err = r.EndSession(sess.SessionID, "Lec001")
	require.NoError(t, err)

	// The leaver still appears in the scores, charged for the absence tail.
	scores := r.CalculateAttendanceScore(sess.SessionID)
	require.Contains(t, scores, "123456")
	details := scores["123456"]
	assert.InDelta(t, 10, details.TimeActiveMinutes, 1e-9)
	assert.InDelta(t, 10, details.TimeDisconnectedMinutes, 1e-9)
}

func TestCalculateAttendanceScoreScenario(t *testing.T) {
	r, clock := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	require.True(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantBatteryLow))
	clock.Advance(5 * time.Minute)
	require.True(t, r.UpdateParticipantStatus(sess.SessionID, "123456", ParticipantDisconnected))
	clock.Advance(5 * time.Minute)
	_, err = r.EndSession(sess.SessionID, "Lec001")
	require.NoError(t, err)

	scores := r.CalculateAttendanceScore(sess.SessionID)
	require.Contains(t, scores, "123456")
	details := scores["123456"]
	assert.Equal(t, "Intisor", details.Name)
	assert.InDelta(t, 10, details.TimeActiveMinutes, 1e-9)
	assert.InDelta(t, 5, details.TimeBatteryLowMinutes, 1e-9)
	assert.InDelta(t, 5, details.TimeDisconnectedMinutes, 1e-9)
	assert.InDelta(t, 45, details.FinalScorePercentage, 1e-9)
}

func TestCalculateAttendanceScoreUnknownSession(t *testing.T) {
	r, _ := newTestRegistry()
	scores := r.CalculateAttendanceScore("missing")
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

func TestLookups(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)

	assert.Equal(t, sess, r.GetSessionByID(sess.SessionID))
	assert.Nil(t, r.GetSessionByID("missing"))

	byLecturer := r.GetSessionsByLecturer("Lec001")
	require.Len(t, byLecturer, 1)
	assert.Equal(t, sess.SessionID, byLecturer[0].SessionID)

	byParticipant := r.GetSessionByParticipant("123456")
	require.NotNil(t, byParticipant)
	assert.Equal(t, sess.SessionID, byParticipant.SessionID)

	active := r.GetActiveSessions()
	require.Len(t, active, 1)

	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)
	assert.Empty(t, r.GetActiveSessions())
	assert.Len(t, r.GetLiveSessions(), 1)

	names := r.GetParticipants(sess.SessionID)
	assert.Equal(t, "Intisor", names["123456"])
}

func TestConcurrentStatusUpdates(t *testing.T) {
	r, _ := newTestRegistry()
	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "654321", "conn-2")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	statuses := []ParticipantStatus{
		ParticipantActive, ParticipantInactive, ParticipantBatteryLow,
		ParticipantDataFinished, ParticipantDisconnected,
	}
	for i := 0; i < 50; i++ {
		wg.Add(2)
		status := statuses[i%len(statuses)]
		go func() {
			defer wg.Done()
			r.UpdateParticipantStatus(sess.SessionID, "123456", status)
		}()
		go func() {
			defer wg.Done()
			r.CalculateAttendanceScore(sess.SessionID)
		}()
	}
	wg.Wait()

	// Timelines stay ordered no matter how updates interleaved.
	sess.mu.Lock()
	events := sess.timelineFor("123456").Events()
	sess.mu.Unlock()
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			fmt.Sprintf("event %d out of order", i))
	}
}
