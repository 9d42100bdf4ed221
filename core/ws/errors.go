package ws

import "errors"

// ErrConnectionClosed is returned by Send and Receive after the session
// has left the Open state.
var ErrConnectionClosed = errors.New("websocket connection closed")
