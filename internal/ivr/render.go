package ivr

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

const (
	sayVoice      = "Polly.Joanna"
	gatherTimeout = "8"
)

// fallbackDocument is served when TwiML rendering itself fails.
const fallbackDocument = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>We're sorry, something went wrong. Goodbye.</Say><Hangup/></Response>`

func say(text string) twiml.Element {
	return &twiml.VoiceSay{Message: text, Voice: sayVoice}
}

func hangup() twiml.Element {
	return &twiml.VoiceHangup{}
}

func pause(seconds int) twiml.Element {
	return &twiml.VoicePause{Length: fmt.Sprint(seconds)}
}

// menu is the main-menu prompt: a one-digit gather, then a redirect back to
// the gather callback with no digits when the caller stays silent.
func menu(name, gatherURL string) []twiml.Element {
	options := fmt.Sprintf("Press 1 to acknowledge this alert and let others know you are responding. "+
		"Press 2 to hear %s's phone number and last known location. "+
		"Press 9 to repeat this message.", name)
	return []twiml.Element{
		&twiml.VoiceGather{
			Action:        gatherURL,
			Method:        "POST",
			NumDigits:     "1",
			Timeout:       gatherTimeout,
			InnerElements: []twiml.Element{say(options)},
		},
		&twiml.VoiceRedirect{Url: gatherURL, Method: "POST"},
	}
}

func document(verbs []twiml.Element) string {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return fallbackDocument
	}
	return doc
}
