package sessions

import "time"

// Per-minute weights. Active is the maximum, so a fully active participant
// scores exactly 100%. Warning statuses are advisory and weigh nothing; the
// penalty lands on whatever status follows them.
const (
	weightActive       = 10.0
	weightInactive     = -2.0
	weightBatteryLow   = 0.0
	weightDataFinished = 0.0
	weightDisconnected = -3.0

	graceInactive     = -1.0
	graceDisconnected = -2.0

	maxWeightPerMinute = weightActive
)

// StatusWeight maps a status to its per-minute weight. preceding is the
// status held immediately before this one, nil when there was none: a drop to
// Inactive or Disconnected right after a warning status earns the reduced
// grace penalty instead of the standard one.
func StatusWeight(status ParticipantStatus, preceding *ParticipantStatus) float64 {
	grace := preceding != nil && preceding.IsWarning()

	switch status {
	case ParticipantActive:
		return weightActive
	case ParticipantInactive:
		if grace {
			return graceInactive
		}
		return weightInactive
	case ParticipantBatteryLow:
		return weightBatteryLow
	case ParticipantDataFinished:
		return weightDataFinished
	case ParticipantDisconnected:
		if grace {
			return graceDisconnected
		}
		return weightDisconnected
	default:
		return weightDisconnected
	}
}

// ScoreDetails is the per-participant attendance breakdown. It is derived on
// demand and never stored.
type ScoreDetails struct {
	ParticipantID           string  `json:"participantId"`
	Name                    string  `json:"name"`
	TotalSessionMinutes     float64 `json:"totalSessionMinutes"`
	TimeActiveMinutes       float64 `json:"timeActiveMinutes"`
	TimeInactiveMinutes     float64 `json:"timeInactiveMinutes"`
	TimeBatteryLowMinutes   float64 `json:"timeBatteryLowMinutes"`
	TimeDataFinishedMinutes float64 `json:"timeDataFinishedMinutes"`
	TimeDisconnectedMinutes float64 `json:"timeDisconnectedMinutes"`
	FinalScorePercentage    float64 `json:"finalScorePercentage"`
}

func (d *ScoreDetails) addBucket(status ParticipantStatus, minutes float64) {
	switch status {
	case ParticipantActive:
		d.TimeActiveMinutes += minutes
	case ParticipantInactive:
		d.TimeInactiveMinutes += minutes
	case ParticipantBatteryLow:
		d.TimeBatteryLowMinutes += minutes
	case ParticipantDataFinished:
		d.TimeDataFinishedMinutes += minutes
	default:
		d.TimeDisconnectedMinutes += minutes
	}
}

// CalculateAttendanceScore integrates every candidate participant's timeline
// over the session window. Candidates are the union of current members,
// timeline keys and status-map keys, so someone who left mid-session is still
// scored. An unknown session yields an empty map: scoring is a best-effort
// read, never an error.
func (r *Registry) CalculateAttendanceScore(sessionID string) map[string]ScoreDetails {
	sess := r.GetSessionByID(sessionID)
	if sess == nil {
		return map[string]ScoreDetails{}
	}

	sess.mu.Lock()
	start := sess.startTime
	end := sess.endTime
	candidates := make(map[string]struct{}, len(sess.participantIDs))
	for id := range sess.participantIDs {
		candidates[id] = struct{}{}
	}
	for id := range sess.participantEvents {
		candidates[id] = struct{}{}
	}
	for id := range sess.participantStatuses {
		candidates[id] = struct{}{}
	}
	events := make(map[string][]StatusEvent, len(sess.participantEvents))
	for id, tl := range sess.participantEvents {
		events[id] = tl.Events()
	}
	statuses := make(map[string]ParticipantStatus, len(sess.participantStatuses))
	for id, st := range sess.participantStatuses {
		statuses[id] = st
	}
	sess.mu.Unlock()

	if end.IsZero() {
		end = r.now()
	}

	scores := make(map[string]ScoreDetails, len(candidates))
	for id := range candidates {
		current, ok := statuses[id]
		if !ok {
			current = ParticipantDisconnected
		}
		details := scoreTimeline(events[id], current, start, end)
		details.ParticipantID = id
		if user, found := r.directory.Resolve(id); found {
			details.Name = user.Name
		} else {
			details.Name = id
		}
		scores[id] = details
	}
	return scores
}

// scoreTimeline charges each interval of the window at the weight of the
// status active during it, using the previous event's status as grace
// context. The gap before the first event counts as Disconnected, and a
// participant with no events at all is charged their current status for the
// whole window.
func scoreTimeline(events []StatusEvent, current ParticipantStatus, start, end time.Time) ScoreDetails {
	total := end.Sub(start).Minutes()
	if total < 1 {
		total = 1 // avoid division by zero on degenerate windows
	}

	details := ScoreDetails{TotalSessionMinutes: total}
	raw := 0.0

	charge := func(status ParticipantStatus, preceding *ParticipantStatus, minutes float64) {
		if minutes <= 0 {
			return
		}
		details.addBucket(status, minutes)
		raw += StatusWeight(status, preceding) * minutes
	}

	if len(events) == 0 {
		charge(current, nil, total)
	} else {
		charge(ParticipantDisconnected, nil, events[0].Timestamp.Sub(start).Minutes())

		for i := range events {
			intervalEnd := end
			if i+1 < len(events) {
				intervalEnd = events[i+1].Timestamp
			}
			var preceding *ParticipantStatus
			if i > 0 {
				preceding = &events[i-1].Status
			}
			charge(events[i].Status, preceding, intervalEnd.Sub(events[i].Timestamp).Minutes())
		}
	}

	details.FinalScorePercentage = clampPercent(raw / (maxWeightPerMinute * total) * 100)
	return details
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
