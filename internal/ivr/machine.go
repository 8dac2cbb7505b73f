package ivr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go/twiml"

	"wellness-service/internal/alerts"
	"wellness-service/internal/db"
	"wellness-service/internal/logging"
	"wellness-service/internal/metrics"
	"wellness-service/internal/models"
)

type Alerts interface {
	Get(ctx context.Context, id uuid.UUID) (models.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, supporterID string) (models.Alert, alerts.Outcome, error)
}

type Supporters interface {
	FindSupporterLinkByPhone(ctx context.Context, checkerID, phone string) (models.SupporterLink, error)
}

type Checkers interface {
	GetChecker(ctx context.Context, checkerID string) (models.Checker, error)
}

type CallLog interface {
	UpsertDelivery(ctx context.Context, e models.DeliveryLogEntry) (models.DeliveryLogEntry, error)
}

// Call carries the parameters of one voice callback.
type Call struct {
	AlertID string
	Digits  string
	// Caller is the supporter's number: To on calls we placed, From on calls
	// the supporter placed.
	Caller  string
	CallSid string
}

// Response is the voice document for one turn and the state it renders.
type Response struct {
	State    State
	Document string
}

// Machine answers voice callbacks. All state comes from the alert record and
// the callback parameters.
type Machine struct {
	alerts     Alerts
	supporters Supporters
	checkers   Checkers
	calls      CallLog
	logger     *logging.Logger
	metrics    *metrics.Metrics
	base       string
	now        func() time.Time
}

// New builds a Machine. callbackBase is the public URL prefix of the /voice
// routes, e.g. https://wellness.example.com/api/v0.
func New(a Alerts, supporters Supporters, checkers Checkers, calls CallLog, logger *logging.Logger, m *metrics.Metrics, callbackBase string) *Machine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Machine{
		alerts:     a,
		supporters: supporters,
		checkers:   checkers,
		calls:      calls,
		logger:     logger,
		metrics:    m,
		base:       strings.TrimRight(callbackBase, "/"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Machine) gatherURL(alertID string) string {
	return m.base + "/voice/gather?alert_id=" + url.QueryEscape(alertID)
}

func (m *Machine) respond(state State, verbs []twiml.Element) Response {
	m.metrics.IVRTurns.WithLabelValues(string(state)).Inc()
	return Response{State: state, Document: document(verbs)}
}

// loadActive returns the alert, or a terminal response when the alert is
// missing, resolved, or cannot be read.
func (m *Machine) loadActive(ctx context.Context, rawID string) (models.Alert, *Response) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		m.logger.Warnf("Voice callback with malformed alert id %q", rawID)
		r := m.noLongerActive()
		return models.Alert{}, &r
	}
	alert, err := m.alerts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			r := m.noLongerActive()
			return models.Alert{}, &r
		}
		m.logger.Errorf("Voice callback failed to load alert %s: %v", id, err)
		r := m.apology()
		return models.Alert{}, &r
	}
	if !alert.Active() {
		r := m.noLongerActive()
		return models.Alert{}, &r
	}
	return alert, nil
}

// Greeting answers the call with the main menu.
func (m *Machine) Greeting(ctx context.Context, alertID string) Response {
	alert, done := m.loadActive(ctx, alertID)
	if done != nil {
		return *done
	}
	return m.mainMenu(alert)
}

// Gather handles one key press (or silence) on the main menu.
func (m *Machine) Gather(ctx context.Context, call Call) Response {
	alert, done := m.loadActive(ctx, call.AlertID)
	if done != nil {
		return *done
	}

	switch state := Next(StateMainMenu, ParseInput(call.Digits)); state {
	case StateAcknowledge:
		return m.acknowledge(ctx, alert, call)
	case StateReadContact:
		return m.readContact(ctx, alert)
	default:
		return m.repeat(alert)
	}
}

func displayName(a models.Alert) string {
	if a.CheckerName == "" {
		return "the person you support"
	}
	return a.CheckerName
}

func (m *Machine) urgency(a models.Alert) string {
	hours := a.HoursSinceMissed(m.now())
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("This is an urgent wellness alert. %s has not checked in for %d %s.", displayName(a), hours, unit)
}

func (m *Machine) mainMenu(a models.Alert) Response {
	verbs := []twiml.Element{say(m.urgency(a))}
	verbs = append(verbs, menu(displayName(a), m.gatherURL(a.ID.String()))...)
	return m.respond(StateMainMenu, verbs)
}

func (m *Machine) repeat(a models.Alert) Response {
	verbs := []twiml.Element{say(m.urgency(a))}
	verbs = append(verbs, menu(displayName(a), m.gatherURL(a.ID.String()))...)
	return m.respond(StateRepeat, verbs)
}

func (m *Machine) readContact(ctx context.Context, a models.Alert) Response {
	var text string
	checker, err := m.checkers.GetChecker(ctx, a.CheckerID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		text = "Contact information is not available."
	case err != nil:
		m.logger.Errorf("Voice callback failed to load checker %s: %v", a.CheckerID, err)
		return m.apology()
	default:
		text = contactSentence(checker)
	}

	verbs := []twiml.Element{say(text), pause(1)}
	verbs = append(verbs, menu(displayName(a), m.gatherURL(a.ID.String()))...)
	return m.respond(StateReadContact, verbs)
}

func contactSentence(c models.Checker) string {
	var b strings.Builder
	if spoken := SpeakPhone(c.Phone); spoken != "" {
		fmt.Fprintf(&b, "The phone number is %s. Again, %s.", spoken, spoken)
	} else {
		b.WriteString("A phone number is not available.")
	}
	if c.LastKnownLocation != nil && *c.LastKnownLocation != "" {
		fmt.Fprintf(&b, " The last known location is %s.", *c.LastKnownLocation)
	}
	return b.String()
}

func (m *Machine) acknowledge(ctx context.Context, a models.Alert, call Call) Response {
	link, err := m.supporters.FindSupporterLinkByPhone(ctx, a.CheckerID, call.Caller)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			m.logger.Errorf("Voice acknowledge failed to resolve caller for alert %s: %v", a.ID, err)
			return m.apology()
		}
		m.logger.Warnf("Voice acknowledge for alert %s from unrecognized number", a.ID)
		m.logCall(ctx, a.ID, nil, call, models.DeliveryAnswered, "caller not recognized")
		return m.respond(StateAcknowledge, []twiml.Element{
			say("We could not match this phone number to a supporter of " + displayName(a) + ". Please acknowledge the alert in the app. Goodbye."),
			hangup(),
		})
	}

	supporterID := link.Identity()
	_, outcome, err := m.alerts.Acknowledge(ctx, a.ID, supporterID)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			return m.noLongerActive()
		}
		m.logger.Errorf("Voice acknowledge of alert %s by %s failed: %v", a.ID, supporterID, err)
		return m.apology()
	}

	var text string
	status := models.DeliveryAnswered
	switch outcome {
	case alerts.OutcomeAcknowledged:
		status = models.DeliveryAcknowledged
		text = fmt.Sprintf("Thank you. You have acknowledged the alert for %s. Other supporters will see that you are responding. Goodbye.", displayName(a))
	case alerts.OutcomeAlreadyResolved:
		return m.noLongerActive()
	default:
		text = "This alert was already acknowledged by another supporter. Thank you for responding. Goodbye."
	}
	m.logCall(ctx, a.ID, &supporterID, call, status, "")
	return m.respond(StateAcknowledge, []twiml.Element{say(text), hangup()})
}

func (m *Machine) logCall(ctx context.Context, alertID uuid.UUID, supporterID *string, call Call, status models.DeliveryStatus, note string) {
	providerID := call.CallSid
	if providerID == "" {
		providerID = "ivr-" + uuid.NewString()
	}
	entry := models.DeliveryLogEntry{
		AlertID:     &alertID,
		SupporterID: supporterID,
		ProviderID:  providerID,
		Channel:     models.ChannelVoice,
		Status:      status,
		Destination: models.NormalizePhone(call.Caller),
		Error:       note,
		UpdatedAt:   m.now(),
	}
	if _, err := m.calls.UpsertDelivery(ctx, entry); err != nil {
		m.logger.Errorf("Failed to log voice acknowledge for call %s: %v", providerID, err)
	}
}

func (m *Machine) noLongerActive() Response {
	return m.respond(StateNoLongerActive, []twiml.Element{
		say("This alert is no longer active. No action is needed. Goodbye."),
		hangup(),
	})
}

func (m *Machine) apology() Response {
	return m.respond(StateApology, []twiml.Element{
		say("We're sorry, something went wrong while handling your request. Please check the app. Goodbye."),
		hangup(),
	})
}
