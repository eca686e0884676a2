package domain

// SendMessageCommand carries a client's sending intent. MessageID is
// optional; the engine generates one when the client did not.
type SendMessageCommand struct {
	To        string
	Content   string
	MessageID string
}

// ReadMessageCommand acknowledges that the recipient has read a message.
type ReadMessageCommand struct {
	MessageID string
}
