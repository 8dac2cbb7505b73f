package notification

import (
	"fmt"
	"strings"
	"time"

	"wellness-service/internal/models"
	"wellness-service/internal/providers"
)

func title(a models.Alert) string {
	name := a.CheckerName
	if name == "" {
		name = "Someone you support"
	}
	switch a.Level {
	case models.LevelEscalation:
		return fmt.Sprintf("EMERGENCY: %s has not checked in", name)
	case models.LevelHard:
		return fmt.Sprintf("Urgent: %s has not checked in", name)
	case models.LevelSoft:
		return fmt.Sprintf("%s still hasn't checked in", name)
	default:
		return fmt.Sprintf("%s missed a check-in", name)
	}
}

// Render builds the message every channel sends for alert a at now.
func Render(a models.Alert, now time.Time) providers.Message {
	name := a.CheckerName
	if name == "" {
		name = "The person you support"
	}
	hours := a.HoursSinceMissed(now)
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s missed their check-in %d %s ago.", name, hours, unit)
	if a.LastKnownLocation != nil && *a.LastKnownLocation != "" {
		fmt.Fprintf(&b, " Last known location: %s.", *a.LastKnownLocation)
	}
	fmt.Fprintf(&b, " Acknowledge alert %s in the app.", a.ID)

	return providers.Message{
		AlertID:      a.ID,
		CheckerName:  a.CheckerName,
		Level:        a.Level,
		Title:        title(a),
		Body:         b.String(),
		Interruption: models.InterruptionFor(a.Level),
	}
}
