package sessions

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// ProbeTransport is the slice of the realtime layer the liveness probe needs:
// firing a challenge at one connection, reading the last moment a participant
// was seen, and asking for a lecturer push after a scorable change.
type ProbeTransport interface {
	Challenge(connectionID string)
	LastSeen(participantID string) (time.Time, bool)
	NotifyLecturer(sessionID string)
}

// Probe is the background liveness loop. Each cycle it pings every connected
// non-lecturer member of every pending or running session and demotes anyone
// silent for longer than the timeout to Inactive. The ping is fire-and-forget
// per participant; only the last-seen comparison drives the demotion.
type Probe struct {
	registry  *Registry
	transport ProbeTransport

	minInterval time.Duration
	maxInterval time.Duration
	timeout     time.Duration

	now func() time.Time
}

func NewProbe(registry *Registry, transport ProbeTransport, minInterval, maxInterval, timeout time.Duration) *Probe {
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &Probe{
		registry:    registry,
		transport:   transport,
		minInterval: minInterval,
		maxInterval: maxInterval,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Run loops until the context is cancelled. Cancellation is observed between
// cycles, never mid-cycle.
func (p *Probe) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.NextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Liveness probe stopped")
			return
		case <-timer.C:
		}
		p.Sweep()
	}
}

// NextInterval picks a uniformly random wait in [min, max]. The jitter keeps
// probes for many sessions from lining up into a thundering herd.
func (p *Probe) NextInterval() time.Duration {
	spread := p.maxInterval - p.minInterval
	if spread <= 0 {
		return p.minInterval
	}
	return p.minInterval + time.Duration(rand.Int63n(int64(spread)+1))
}

// Sweep runs one probe cycle over all live sessions. A failure for one
// participant or session never aborts the rest of the batch.
func (p *Probe) Sweep() {
	now := p.now()
	for _, sess := range p.registry.GetLiveSessions() {
		for _, member := range sess.MemberStates() {
			if member.ParticipantID == sess.LecturerID {
				continue
			}
			if member.ConnectionID != "" {
				go p.transport.Challenge(member.ConnectionID)
			}
			if p.TimedOut(member.ParticipantID, now) && member.Status != ParticipantInactive {
				if p.registry.UpdateParticipantStatus(sess.SessionID, member.ParticipantID, ParticipantInactive) {
					log.Printf("Participant %s in session %s timed out, marked inactive", member.ParticipantID, sess.SessionID)
					p.transport.NotifyLecturer(sess.SessionID)
				}
			}
		}
	}
}

// TimedOut reports whether the participant's last-seen timestamp is older
// than the probe timeout. A participant never seen at all is left alone; the
// disconnect path covers them.
func (p *Probe) TimedOut(participantID string, now time.Time) bool {
	last, ok := p.transport.LastSeen(participantID)
	if !ok {
		return false
	}
	return now.Sub(last) > p.timeout
}
