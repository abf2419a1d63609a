package graph

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// StreamFunc adapts sink to a model streaming callback. Tool-call deltas
// are dropped and nothing is written once the sink is closed. Write errors
// never abort generation; the reply is still needed for persistence.
func StreamFunc(sink Sink) func(ctx context.Context, chunk []byte) error {
	return func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 || sink.Closed() || IsToolCallDelta(chunk) {
			return nil
		}
		if err := sink.Write(string(chunk)); err != nil {
			log.Debug().Err(err).Msg("stream write failed")
		}
		return nil
	}
}

// IsToolCallDelta reports whether a streamed chunk is a serialized tool-call
// array rather than answer text.
func IsToolCallDelta(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	if !bytes.HasPrefix(trimmed, []byte("[{")) {
		return false
	}
	return json.Valid(trimmed)
}
