package whatsapp

import "go.mau.fi/whatsmeow/proto/waE2E"

const voiceMessageMarker = "[Voice Message]"

// normalizeMessage flattens the heterogeneous payload variants into one
// displayable text form, first match wins. The second return is false
// when the payload has no displayable content (locations, contact cards,
// reactions, captionless media) and the event should be skipped.
func normalizeMessage(msg *waE2E.Message) (string, bool) {
	switch {
	case msg == nil:
		return "", false
	case msg.GetConversation() != "":
		return msg.GetConversation(), true
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), true
	case msg.GetImageMessage().GetCaption() != "":
		return "[Image] " + msg.GetImageMessage().GetCaption(), true
	case msg.GetVideoMessage().GetCaption() != "":
		return "[Video] " + msg.GetVideoMessage().GetCaption(), true
	case msg.GetDocumentMessage().GetCaption() != "":
		return "[Document] " + msg.GetDocumentMessage().GetCaption(), true
	case msg.GetAudioMessage() != nil:
		return voiceMessageMarker, true
	default:
		return "", false
	}
}
