// Package protocol defines the JSON session protocol shared by the router,
// the pool manager and the bridge. One Message per WebSocket text frame.
package protocol

import "encoding/json"

// MessageType identifies a session protocol frame.
type MessageType string

const (
	// Router -> pool manager
	MessageTypeNewSession   MessageType = "new_session"
	MessageTypeCloseSession MessageType = "close_session"
	MessageTypeInput        MessageType = "input"
	MessageTypeResize       MessageType = "resize"
	MessageTypeSetBaudRate  MessageType = "setBaudRate"

	// Pool manager -> router (and on to the browser, session stripped)
	MessageTypeOutput MessageType = "output"
	MessageTypeError  MessageType = "error"
	MessageTypeExit   MessageType = "exit"
)

// Message is one session protocol frame. Session is empty on browser-facing
// frames; the router stamps it on the way up and strips it on the way down.
type Message struct {
	Type     MessageType `json:"type"`
	Session  string      `json:"session,omitempty"`
	Data     string      `json:"data,omitempty"`
	Cols     uint16      `json:"cols,omitempty"`
	Rows     uint16      `json:"rows,omitempty"`
	BaudRate int         `json:"baudRate,omitempty"`
}

// Marshal encodes the message as a JSON text frame.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a JSON text frame into a Message.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Stripped returns a copy of the message with the session field cleared.
func (m *Message) Stripped() *Message {
	c := *m
	c.Session = ""
	return &c
}

// Stamped returns a copy of the message carrying the given session id.
func (m *Message) Stamped(session string) *Message {
	c := *m
	c.Session = session
	return &c
}
