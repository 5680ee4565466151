package avs

import (
	"sort"
	"sync"
	"time"
)

// alertForegroundCap bounds how long a fired alert's tone plays in the
// foreground before the scheduler gives up and tears it down (spec
// §4.7: "for at most 30 s or until stop_signal is set").
const alertForegroundCap = 30 * time.Second

// ToneFunc plays an alert tone, repeating, until stop is closed. It must
// return once stop closes (the scheduler closes it itself at the
// foreground cap even if nothing else does).
type ToneFunc func(stop <-chan struct{})

// AlertEventFunc is how the scheduler reports alert lifecycle events
// back to AVS. Per spec §9's "Cyclic ownership" design note, the
// scheduler never holds a connection/dispatcher back-pointer — it only
// calls this function, which the dispatcher supplies.
type AlertEventFunc func(eventName, token string)

// alert is one scheduled or active alarm/timer/reminder (spec §3
// "Alert"). Keyed by token in AlertScheduler.alerts.
type alert struct {
	alertType     string
	scheduledTime string // ISO-8601 UTC, as received verbatim
	timer         *time.Timer
	stopCh        chan struct{}
	isActive      bool
}

// AlertScheduler owns the live alert map and the one-shot timers that
// fire them. Grounded on original_source/alexa_device.py's
// AlarmManager.
type AlertScheduler struct {
	mu       sync.Mutex
	alerts   map[string]*alert
	emit     AlertEventFunc
	playTone ToneFunc
}

// NewAlertScheduler builds a scheduler. emit is called for
// AlertStarted/AlertStopped/AlertEnteredForeground; playTone renders the
// alarm sound.
func NewAlertScheduler(emit AlertEventFunc, playTone ToneFunc) *AlertScheduler {
	return &AlertScheduler{
		alerts:   make(map[string]*alert),
		emit:     emit,
		playTone: playTone,
	}
}

// SetAlert registers a new alert, arming a one-shot timer for
// scheduledTimeISO (RFC3339/ISO-8601 UTC). A past or immediate time
// fires right away. Returns false (no alert registered) if the time
// can't be parsed (spec §4.7).
func (s *AlertScheduler) SetAlert(token, alertType, scheduledTimeISO string) bool {
	scheduledAt, err := time.Parse(time.RFC3339, scheduledTimeISO)
	if err != nil {
		return false
	}

	delay := time.Until(scheduledAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	a := &alert{
		alertType:     alertType,
		scheduledTime: scheduledTimeISO,
		stopCh:        make(chan struct{}),
	}
	a.timer = time.AfterFunc(delay, func() { s.fire(token) })
	s.alerts[token] = a
	return true
}

// DeleteAlert cancels token's timer, stops its tone if it has already
// fired, emits AlertStopped for an active alert, and removes it from the
// map. Returns false if token is unknown (spec §4.7).
func (s *AlertScheduler) DeleteAlert(token string) bool {
	s.mu.Lock()
	a, ok := s.alerts[token]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.alerts, token)
	wasActive := a.isActive
	s.mu.Unlock()

	a.timer.Stop()
	if wasActive {
		s.closeStop(a)
		s.emit(NameAlertStopped, token)
	}
	return true
}

// closeStop closes a's stop channel exactly once.
func (s *AlertScheduler) closeStop(a *alert) {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}

// fire is invoked by the alert's timer. It marks the alert active, plays
// the tone in the foreground for at most alertForegroundCap, and tears
// the alert down via DeleteAlert once the tone finishes — which is what
// emits the closing AlertStopped (spec §4.7).
func (s *AlertScheduler) fire(token string) {
	s.mu.Lock()
	a, ok := s.alerts[token]
	if !ok {
		s.mu.Unlock()
		return
	}
	a.isActive = true
	s.mu.Unlock()

	s.emit(NameAlertStarted, token)

	merged := make(chan struct{})
	go func() {
		timer := time.NewTimer(alertForegroundCap)
		defer timer.Stop()
		select {
		case <-a.stopCh:
		case <-timer.C:
		}
		close(merged)
	}()
	if s.playTone != nil {
		s.playTone(merged)
	} else {
		<-merged
	}

	s.emit(NameAlertEnteredForeground, token)

	s.mu.Lock()
	_, stillPresent := s.alerts[token]
	s.mu.Unlock()
	if stillPresent {
		s.DeleteAlert(token)
	}
}

type alertSummary struct {
	Token         string `json:"token"`
	Type          string `json:"type"`
	ScheduledTime string `json:"scheduledTime"`
}

type alertsStatePayload struct {
	AllAlerts    []alertSummary `json:"allAlerts"`
	ActiveAlerts []alertSummary `json:"activeAlerts"`
}

// StateContextEntry builds the Alerts.AlertsState context entry: every
// live alert in allAlerts, the active subset in activeAlerts (spec
// §3 "Context block", §4.8, invariant 4 in §8).
func (s *AlertScheduler) StateContextEntry() ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]alertSummary, 0, len(s.alerts))
	var active []alertSummary
	for token, a := range s.alerts {
		sm := alertSummary{Token: token, Type: a.alertType, ScheduledTime: a.scheduledTime}
		all = append(all, sm)
		if a.isActive {
			active = append(active, sm)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Token < all[j].Token })
	sort.Slice(active, func(i, j int) bool { return active[i].Token < active[j].Token })

	return ContextEntry{
		Header:  Header{Namespace: NamespaceAlerts, Name: "AlertsState"},
		Payload: alertsStatePayload{AllAlerts: all, ActiveAlerts: active},
	}
}
