package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCallbackBytes is Telegram's limit on inline button callback data.
const MaxCallbackBytes = 64

const argSeparator = ":"

var (
	ErrEmptyCallback   = errors.New("keyboard: empty callback route")
	ErrCallbackTooLong = errors.New("keyboard: callback data too long")
)

// EncodeCallback joins a route and an optional argument as "route:arg".
func EncodeCallback(route, arg string) (string, error) {
	if route == "" {
		return "", ErrEmptyCallback
	}

	payload := route
	if arg != "" {
		payload += argSeparator + arg
	}
	if len(payload) > MaxCallbackBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackTooLong, len(payload))
	}

	return payload, nil
}

// DecodeCallback splits callback data into its route and argument. A leading
// form feed, which telebot adds to unique buttons, is ignored.
func DecodeCallback(data string) (route, arg string, err error) {
	route, arg, _ = strings.Cut(strings.TrimPrefix(data, "\f"), argSeparator)
	if route == "" {
		return "", "", ErrEmptyCallback
	}
	return route, arg, nil
}
