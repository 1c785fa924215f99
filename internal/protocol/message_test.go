package protocol

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMessage_StampStrip(t *testing.T) {
	t.Run("stamp sets session without touching payload", func(t *testing.T) {
		msg := &Message{Type: MessageTypeInput, Data: "ls\r"}
		stamped := msg.Stamped("abc-123")

		if stamped.Session != "abc-123" {
			t.Errorf("Expected session 'abc-123', got '%s'", stamped.Session)
		}
		if stamped.Data != "ls\r" || stamped.Type != MessageTypeInput {
			t.Errorf("Payload changed by stamping: %+v", stamped)
		}
		if msg.Session != "" {
			t.Error("Stamped should copy, not mutate the original")
		}
	})

	t.Run("strip clears session without touching payload", func(t *testing.T) {
		msg := &Message{Type: MessageTypeOutput, Session: "abc-123", Data: "hello"}
		stripped := msg.Stripped()

		if stripped.Session != "" {
			t.Errorf("Expected empty session, got '%s'", stripped.Session)
		}
		if stripped.Data != "hello" {
			t.Errorf("Payload changed by stripping: %+v", stripped)
		}
		if msg.Session != "abc-123" {
			t.Error("Stripped should copy, not mutate the original")
		}
	})

	t.Run("stripped frames omit the session key on the wire", func(t *testing.T) {
		msg := &Message{Type: MessageTypeOutput, Session: "abc-123", Data: "x"}
		data, err := msg.Stripped().Marshal()
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if strings.Contains(string(data), "session") {
			t.Errorf("Browser-facing frame leaked session field: %s", data)
		}
	})
}

func TestUnmarshal(t *testing.T) {
	t.Run("invalid JSON is an error", func(t *testing.T) {
		if _, err := Unmarshal([]byte("{not json")); err == nil {
			t.Error("Expected error for invalid JSON")
		}
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		msg, err := Unmarshal([]byte(`{"type":"input","data":"x","extra":42}`))
		if err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if msg.Type != MessageTypeInput || msg.Data != "x" {
			t.Errorf("Unexpected message: %+v", msg)
		}
	})

	t.Run("resize carries dimensions", func(t *testing.T) {
		msg, err := Unmarshal([]byte(`{"type":"resize","session":"s1","cols":132,"rows":43}`))
		if err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if msg.Cols != 132 || msg.Rows != 43 {
			t.Errorf("Expected 132x43, got %dx%d", msg.Cols, msg.Rows)
		}
	})
}

func TestMessageRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("frames preserve data through marshal/unmarshal", prop.ForAll(
		func(session, data string, baud int) bool {
			msg := &Message{
				Type:     MessageTypeOutput,
				Session:  session,
				Data:     data,
				BaudRate: baud,
			}
			encoded, err := msg.Marshal()
			if err != nil {
				return false
			}
			decoded, err := Unmarshal(encoded)
			if err != nil {
				return false
			}
			return decoded.Session == session && decoded.Data == data && decoded.BaudRate == baud
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.IntRange(0, 1000000),
	))

	properties.Property("stamp then strip is identity on the session field", prop.ForAll(
		func(session, data string) bool {
			msg := &Message{Type: MessageTypeInput, Data: data}
			round := msg.Stamped(session).Stripped()
			return round.Session == "" && round.Data == data
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
