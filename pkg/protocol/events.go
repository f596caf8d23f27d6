package protocol

// Inbound events.
const (
	EventJoinQueue   = "join-queue"
	EventLeaveQueue  = "leave-queue"
	EventSendMessage = "send-message"
)

// Outbound events.
const (
	EventQueued               = "queued"
	EventPaired               = "paired"
	EventReceiveMessage       = "receive-message"
	EventReceiveTranslation   = "receive-translation"
	EventOwnTranslatedMessage = "own-translated-message"
	EventPartnerDisconnected  = "partner-disconnected"
	EventError                = "error"
)

// Error codes carried by EventError.
const (
	CodeMalformed    int32 = 1 // frame is not a valid envelope
	CodeInvalid      int32 = 2 // payload failed validation
	CodeUnknownEvent int32 = 3
	CodeRejected     int32 = 4 // request not allowed in the current state
	CodeInternal     int32 = 5
)

// IsInbound reports whether clients may send this event.
func IsInbound(event string) bool {
	switch event {
	case EventJoinQueue, EventLeaveQueue, EventSendMessage:
		return true
	}
	return false
}

// ----- Inbound payloads -----

type JoinQueueRequest struct {
	Username   string            `json:"username" validate:"required,max=64"`
	Language   string            `json:"language" validate:"required,min=2,max=35"`
	Attributes map[string]string `json:"attributes,omitempty" validate:"omitempty,max=8,dive,keys,min=1,max=32,endkeys,max=256"`
}

type SendMessageRequest struct {
	RoomID        string `json:"roomId" validate:"required,max=64"`
	Text          string `json:"text" validate:"required,max=2000"`
	SenderDisplay string `json:"senderDisplay" validate:"max=64"`
}

// ----- Outbound payloads -----

type Partner struct {
	Username   string            `json:"username"`
	Language   string            `json:"language"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type QueuedEvent struct {
	Position int `json:"position"` // 1-based
	Size     int `json:"size"`
}

type PairedEvent struct {
	RoomID  string  `json:"roomId"`
	Partner Partner `json:"partner"`
}

type ReceiveMessageEvent struct {
	Text          string `json:"text"`
	SenderDisplay string `json:"senderDisplay"`
	Timestamp     string `json:"timestamp"`
	IsOwn         bool   `json:"isOwn"`
}

type ReceiveTranslationEvent struct {
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	FromLang       string `json:"fromLang"`
	ToLang         string `json:"toLang"`
	SenderDisplay  string `json:"senderDisplay"`
	Timestamp      string `json:"timestamp"`
}

type OwnTranslatedMessageEvent struct {
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	ToLang         string `json:"toLang"`
	Timestamp      string `json:"timestamp"`
}

type ErrorEvent struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}
