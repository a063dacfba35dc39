package core

// RespondChannel tags every cross-window respond message.
const RespondChannel = "passport:respond"

// RespondType is the terminal outcome carried by a respond message.
type RespondType string

const (
	RespondSuccess RespondType = "success"
	RespondError   RespondType = "error"
)

// MessageType distinguishes payload messages from close notifications.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeClose   MessageType = "close_event"
)

// RespondMessage is exchanged between an authentication surface and its opener.
type RespondMessage struct {
	Channel     string            `json:"channel"`
	RespondType RespondType       `json:"respondType"`
	MessageType MessageType       `json:"messageType"`
	Data        map[string]string `json:"data,omitempty"`
}

// NewRespondMessage builds a tagged payload message.
func NewRespondMessage(t RespondType, data map[string]string) RespondMessage {
	return RespondMessage{
		Channel:     RespondChannel,
		RespondType: t,
		MessageType: MessageTypeMessage,
		Data:        data,
	}
}
