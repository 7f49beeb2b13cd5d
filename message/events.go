package message

// Event is one normalized application event produced by the session core and
// handed to the event sink. Kind discriminates the payload on the wire.
type Event interface {
	Kind() string
}

// Event kind discriminators.
const (
	KindQRReceived            = "qr-received"
	KindAuthSuccess           = "auth-success"
	KindMessageReceived       = "message-received"
	KindMessageStatusReceived = "message-status-received"
)

// QRReceivedEvent signals that the network issued a QR pairing challenge.
type QRReceivedEvent struct {
	Type     string `json:"type"`
	ClientID int    `json:"clientId"`
	QR       string `json:"qr"`
}

// Kind implements Event.
func (QRReceivedEvent) Kind() string { return KindQRReceived }

// NewQRReceived builds a QRReceivedEvent.
func NewQRReceived(clientID int, qr string) QRReceivedEvent {
	return QRReceivedEvent{Type: KindQRReceived, ClientID: clientID, QR: qr}
}

// AuthSuccessEvent signals that the session authenticated and resolved its
// own phone number.
type AuthSuccessEvent struct {
	Type        string `json:"type"`
	ClientID    int    `json:"clientId"`
	PhoneNumber string `json:"phoneNumber"`
}

// Kind implements Event.
func (AuthSuccessEvent) Kind() string { return KindAuthSuccess }

// NewAuthSuccess builds an AuthSuccessEvent.
func NewAuthSuccess(clientID int, phone string) AuthSuccessEvent {
	return AuthSuccessEvent{Type: KindAuthSuccess, ClientID: clientID, PhoneNumber: phone}
}

// MessageReceivedEvent carries one canonical inbound message.
type MessageReceivedEvent struct {
	Type     string   `json:"type"`
	ClientID int      `json:"clientId"`
	Message  *Message `json:"message"`
}

// Kind implements Event.
func (MessageReceivedEvent) Kind() string { return KindMessageReceived }

// NewMessageReceived builds a MessageReceivedEvent.
func NewMessageReceived(clientID int, msg *Message) MessageReceivedEvent {
	return MessageReceivedEvent{Type: KindMessageReceived, ClientID: clientID, Message: msg}
}

// MessageStatusReceivedEvent carries one delivery-status update.
type MessageStatusReceivedEvent struct {
	Type      string `json:"type"`
	ClientID  int    `json:"clientId"`
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Kind implements Event.
func (MessageStatusReceivedEvent) Kind() string { return KindMessageStatusReceived }

// NewMessageStatusReceived builds a MessageStatusReceivedEvent with a
// millisecond timestamp.
func NewMessageStatusReceived(clientID int, messageID string, status Status, tsMillis int64) MessageStatusReceivedEvent {
	return MessageStatusReceivedEvent{
		Type:      KindMessageStatusReceived,
		ClientID:  clientID,
		MessageID: messageID,
		Status:    status,
		Timestamp: tsMillis,
	}
}
