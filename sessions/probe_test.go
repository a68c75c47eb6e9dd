package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu         sync.Mutex
	challenged []string
	notified   []string
	seen       map[string]time.Time
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{seen: make(map[string]time.Time)}
}

func (f *fakeTransport) Challenge(connectionID string) {
	f.mu.Lock()
	f.challenged = append(f.challenged, connectionID)
	f.mu.Unlock()
}

func (f *fakeTransport) LastSeen(participantID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.seen[participantID]
	return last, ok
}

func (f *fakeTransport) NotifyLecturer(sessionID string) {
	f.mu.Lock()
	f.notified = append(f.notified, sessionID)
	f.mu.Unlock()
}

func (f *fakeTransport) challengedConns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.challenged...)
}

func (f *fakeTransport) notifiedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notified...)
}

func TestNextIntervalStaysInBounds(t *testing.T) {
	p := NewProbe(nil, nil, 5*time.Minute, 20*time.Minute, 35*time.Second)
	for i := 0; i < 100; i++ {
		interval := p.NextInterval()
		assert.GreaterOrEqual(t, interval, 5*time.Minute)
		assert.LessOrEqual(t, interval, 20*time.Minute)
	}

	// A degenerate range falls back to the minimum.
	fixed := NewProbe(nil, nil, time.Minute, time.Minute, 35*time.Second)
	assert.Equal(t, time.Minute, fixed.NextInterval())
}

func TestTimedOut(t *testing.T) {
	transport := newFakeTransport()
	p := NewProbe(nil, transport, time.Minute, time.Minute, 35*time.Second)

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// Never seen: not timed out, the disconnect path covers them.
	assert.False(t, p.TimedOut("123456", now))

	transport.seen["123456"] = now.Add(-30 * time.Second)
	assert.False(t, p.TimedOut("123456", now))

	transport.seen["123456"] = now.Add(-40 * time.Second)
	assert.True(t, p.TimedOut("123456", now))
}

func TestSweepMarksSilentParticipantsInactive(t *testing.T) {
	r, clock := newTestRegistry()
	transport := newFakeTransport()
	p := NewProbe(r, transport, time.Minute, time.Minute, 35*time.Second)
	p.now = clock.Now

	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "123456", "conn-1")
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "654321", "conn-2")
	require.NoError(t, err)
	_, err = r.StartSession(sess.SessionID)
	require.NoError(t, err)

	// One participant answered recently, the other went silent.
	transport.seen["123456"] = clock.Now()
	transport.seen["654321"] = clock.Now()
	clock.Advance(2 * time.Minute)
	transport.seen["123456"] = clock.Now()

	p.Sweep()

	statuses := r.GetParticipantStatuses(sess.SessionID)
	assert.Equal(t, ParticipantActive, statuses["123456"])
	assert.Equal(t, ParticipantInactive, statuses["654321"])
	assert.Equal(t, []string{sess.SessionID}, transport.notifiedSessions())

	// A second sweep changes nothing: the participant is already Inactive.
	p.Sweep()
	assert.Equal(t, []string{sess.SessionID}, transport.notifiedSessions())
}

func TestSweepSkipsLecturer(t *testing.T) {
	r, clock := newTestRegistry()
	transport := newFakeTransport()
	p := NewProbe(r, transport, time.Minute, time.Minute, 35*time.Second)
	p.now = clock.Now

	sess, _, err := r.CreateSession("Lec001", "Compilers", nil, nil, false)
	require.NoError(t, err)
	_, err = r.JoinSession(sess.SessionID, "Lec001", "conn-lec")
	require.NoError(t, err)

	transport.seen["Lec001"] = clock.Now()
	clock.Advance(2 * time.Minute)

	p.Sweep()

	assert.Empty(t, transport.challengedConns())
	assert.Empty(t, transport.notifiedSessions())
}
