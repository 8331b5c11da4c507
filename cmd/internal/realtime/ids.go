package realtime

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// newSessionID identifies one websocket connection in logs and hello_ack.
func newSessionID() string { return uuid.NewString() }

// newEnvelopeID returns a time-ordered id for server-originated envelopes.
func newEnvelopeID() string { return ulid.Make().String() }
