package session

import (
	"errors"
	"fmt"

	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/websocket"
)

var (
	// ErrConnectionFailure matches every *ConnectionFailure.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrStreamClosed reports that the server ended the connection while a reply or an
	// event was expected. The transport error is joined to it.
	ErrStreamClosed = errors.New("stream closed")

	// ErrInvalidParams wraps every validation failure of Params.
	ErrInvalidParams = errors.New("invalid connection parameters")

	// ErrNotStreaming is returned by Subscribe once the subscription has ended.
	ErrNotStreaming = errors.New("subscription is not streaming")
)

// ConnectionFailure is a handshake-level rejection: the server refused the credentials
// or answered an action with a message of the wrong kind.
type ConnectionFailure struct {
	Reason string
	// Reply is the message that caused the failure.
	Reply stream.Message
}

func (e *ConnectionFailure) Error() string {
	return "failed to connect: " + e.Reason
}

func (e *ConnectionFailure) Is(target error) bool {
	return target == ErrConnectionFailure
}

func unexpectedReply(action string, reply stream.Message) *ConnectionFailure {
	return &ConnectionFailure{
		Reason: fmt.Sprintf("unexpected %s message in reply to %s", reply.Stream(), action),
		Reply:  reply,
	}
}

// classify maps a closed transport to ErrStreamClosed and passes other errors through.
func classify(err error) error {
	if errors.Is(err, websocket.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	return err
}

func decodeErrorKind(err error) string {
	if errors.Is(err, stream.ErrMalformed) {
		return "malformed"
	}
	return "unrecognized"
}
