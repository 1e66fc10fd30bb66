package rooms

import "unicode/utf8"

// MaxPayloadBytes caps a single signaling message.
const MaxPayloadBytes = 64 << 10

func validatePayload(payload string) error {
	if payload == "" || len(payload) > MaxPayloadBytes {
		return ErrInvalidArgument
	}
	if !utf8.ValidString(payload) {
		return ErrInvalidArgument
	}
	return nil
}
