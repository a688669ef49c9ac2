package peer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/romashorodok/peerstream/pkg/engine"
)

// Message is one received data-channel message.
type Message struct {
	// Data holds the payload bytes, whatever frame type carried them.
	Data []byte
	// Text reports a text frame.
	Text bool
	// Value is the decoded JSON of a text frame in object mode. Text that is
	// not JSON is delivered as a string.
	Value any
}

type outbound struct {
	data []byte
	text bool
}

func encodeChunk(chunk any, objectMode bool) (outbound, error) {
	switch v := chunk.(type) {
	case nil:
		return outbound{}, fmt.Errorf("%w: nil chunk", ErrInvalidArgument)
	case []byte:
		return outbound{data: v}, nil
	case json.RawMessage:
		if objectMode {
			return outbound{data: v, text: true}, nil
		}
		return outbound{data: v}, nil
	case string:
		if objectMode {
			return encodeJSON(v)
		}
		return outbound{data: []byte(v), text: true}, nil
	case []int8, []uint16, []int16, []uint32, []int32, []uint64, []int64, []float32, []float64:
		// Typed numeric views normalize to their little-endian bytes.
		data, err := binary.Append(nil, binary.LittleEndian, v)
		if err != nil {
			return outbound{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return outbound{data: data}, nil
	}

	if objectMode {
		return encodeJSON(chunk)
	}
	return outbound{}, fmt.Errorf("%w: unsupported chunk type %T", ErrInvalidArgument, chunk)
}

func encodeJSON(v any) (outbound, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return outbound{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return outbound{data: data, text: true}, nil
}

func decodeMessage(msg engine.DataChannelMessage, objectMode bool) Message {
	out := Message{Data: msg.Data, Text: msg.IsString}
	if !objectMode || !msg.IsString {
		return out
	}
	var value any
	if err := json.Unmarshal(msg.Data, &value); err != nil {
		out.Value = string(msg.Data)
		return out
	}
	out.Value = value
	return out
}
