package aprs

import (
	"errors"
	"strings"
)

// parseMessage parses a message payload: ":ADDRESSEE:message body{id".
// The addressee is padded to 9 characters.
func parseMessage(payload string) (to, body, id string, err error) {
	s := payload[1:]

	if len(s) < 11 {
		return "", "", "", errTooShort
	}

	to = strings.TrimSpace(s[:9])
	if to == "" {
		return "", "", "", errors.New("message recipient is blank")
	}

	if s[9] != ':' {
		return "", "", "", errors.New("missing message body separator ':'")
	}

	text := s[10:]
	if i := strings.LastIndex(text, "{"); i > 0 {
		body = strings.TrimSpace(text[:i])
		id = strings.TrimSpace(text[i+1:])
	} else {
		body = strings.TrimSpace(text)
	}

	if body == "" {
		return "", "", "", errors.New("message body is blank")
	}

	return to, body, id, nil
}
