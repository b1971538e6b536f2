package tcp

import "errors"

var errUnknownMessageType = errors.New("tcp: unknown message type")
