package bridge

import (
	"bytes"
	"log"
)

// Telnet protocol bytes.
const (
	telnetIAC  = 0xff // Interpret As Command
	telnetSE   = 0xf0 // Subnegotiation End
	telnetBRK  = 0xf3 // Break
	telnetIP   = 0xf4 // Interrupt Process
	telnetSB   = 0xfa // Subnegotiation Begin
	telnetWILL = 0xfb
	telnetWONT = 0xfc
	telnetDO   = 0xfd
	telnetDONT = 0xfe

	// Sent by some vintage terminal clients in place of abort-output.
	telnetAO = 0xed
)

// Attention signals are normalized to the control characters the
// simulated hosts understand.
const (
	ctrlC = 0x03
	ctrlZ = 0x1a
)

// decoder states.
const (
	stateData = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

// telnetDecoder strips telnet protocol commands from the inbound TCP
// stream. It is a byte state machine so commands split across TCP reads
// decode exactly like contiguous ones.
type telnetDecoder struct {
	state int
	cmd   byte
}

// Decode consumes one read's worth of bytes. It returns the application
// data with commands removed and attention signals mapped to control
// characters, plus the negotiation replies that must go back out on the
// TCP socket. The bridge supports no telnet options: DO and DONT are
// answered with WONT, WILL and WONT with DONT, which keeps the peer from
// hanging on an unanswered request.
func (d *telnetDecoder) Decode(data []byte) (app, replies []byte) {
	for _, b := range data {
		switch d.state {
		case stateData:
			if b == telnetIAC {
				d.state = stateIAC
			} else {
				app = append(app, b)
			}

		case stateIAC:
			switch b {
			case telnetIAC:
				// Escaped 0xFF literal.
				app = append(app, telnetIAC)
				d.state = stateData
			case telnetBRK:
				log.Printf("Telnet BRK -> Ctrl-Z")
				app = append(app, ctrlZ)
				d.state = stateData
			case telnetIP:
				log.Printf("Telnet IP -> Ctrl-C")
				app = append(app, ctrlC)
				d.state = stateData
			case telnetAO:
				log.Printf("Telnet AO -> Ctrl-Z")
				app = append(app, ctrlZ)
				d.state = stateData
			case telnetDO, telnetDONT, telnetWILL, telnetWONT:
				d.cmd = b
				d.state = stateOption
			case telnetSB:
				d.state = stateSub
			default:
				log.Printf("Telnet command: ff %02x", b)
				d.state = stateData
			}

		case stateOption:
			if d.cmd == telnetDO || d.cmd == telnetDONT {
				replies = append(replies, telnetIAC, telnetWONT, b)
			} else {
				replies = append(replies, telnetIAC, telnetDONT, b)
			}
			d.state = stateData

		case stateSub:
			if b == telnetIAC {
				d.state = stateSubIAC
			}

		case stateSubIAC:
			switch b {
			case telnetSE:
				d.state = stateData
			case telnetIAC:
				// Escaped data byte inside the subnegotiation; discarded
				// with the rest of the payload.
				d.state = stateSub
			default:
				d.state = stateSub
			}
		}
	}
	return app, replies
}

// escapeIAC doubles literal 0xFF bytes for the telnet-framed outbound
// path, the inverse of the inbound unescape.
func escapeIAC(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte{telnetIAC}, []byte{telnetIAC, telnetIAC})
}

// decodeLatin1 maps every byte to the rune of the same value, so control
// bytes survive the trip through a JSON string.
func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// encodeLatin1 is the inverse of decodeLatin1. Runes above 0xFF have no
// byte representation on a vintage terminal and degrade to '?'.
func encodeLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			out = append(out, '?')
			continue
		}
		out = append(out, byte(r))
	}
	return out
}
