package models

// ChannelsFor returns the channels a supporter link should be contacted on at
// the given level, in the order they are attempted.
//
// Push, email and telegram go out at every level when opted in. SMS is held
// back until soft, and a voice call is only placed at hard or escalation.
func ChannelsFor(level Level, link SupporterLink) []Channel {
	if !level.Valid() || !link.Active {
		return nil
	}
	var channels []Channel
	if link.PushEnabled && len(link.DeviceTokens) > 0 {
		channels = append(channels, ChannelPush)
	}
	if link.TelegramEnabled && link.TelegramChatID != 0 {
		channels = append(channels, ChannelTelegram)
	}
	if link.EmailEnabled && link.Email != "" {
		channels = append(channels, ChannelEmail)
	}
	if link.SMSEnabled && link.Phone != "" && level >= LevelSoft {
		channels = append(channels, ChannelSMS)
	}
	if link.VoiceEnabled && link.Phone != "" && level >= LevelHard {
		channels = append(channels, ChannelVoice)
	}
	return channels
}

// InterruptionLevel is the push delivery path requested for a level.
type InterruptionLevel string

const (
	InterruptionActive        InterruptionLevel = "active"
	InterruptionTimeSensitive InterruptionLevel = "time-sensitive"
	InterruptionCritical      InterruptionLevel = "critical"
)

// InterruptionFor elevates push delivery with the level; escalation requests
// the critical path that bypasses silencing.
func InterruptionFor(level Level) InterruptionLevel {
	switch {
	case level >= LevelEscalation:
		return InterruptionCritical
	case level >= LevelSoft:
		return InterruptionTimeSensitive
	default:
		return InterruptionActive
	}
}
