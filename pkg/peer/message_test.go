package peer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/romashorodok/peerstream/pkg/engine"
)

func TestEncodeChunk(t *testing.T) {
	for name, tc := range map[string]struct {
		chunk      any
		objectMode bool
		data       []byte
		text       bool
	}{
		"Bytes":         {chunk: []byte{1, 2, 3}, data: []byte{1, 2, 3}},
		"String":        {chunk: "hi", data: []byte("hi"), text: true},
		"Uint16View":    {chunk: []uint16{1, 0x0203}, data: []byte{1, 0, 3, 2}},
		"Int32View":     {chunk: []int32{-1}, data: []byte{0xff, 0xff, 0xff, 0xff}},
		"Float32View":   {chunk: []float32{1}, data: []byte{0, 0, 0x80, 0x3f}},
		"ObjectString":  {chunk: "hi", objectMode: true, data: []byte(`"hi"`), text: true},
		"ObjectStruct":  {chunk: struct{ A int }{1}, objectMode: true, data: []byte(`{"A":1}`), text: true},
		"ObjectBytes":   {chunk: []byte("raw"), objectMode: true, data: []byte("raw")},
		"ObjectNumbers": {chunk: []int{1, 2}, objectMode: true, data: []byte(`[1,2]`), text: true},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			out, err := encodeChunk(tc.chunk, tc.objectMode)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out.data, tc.data) {
				t.Fatalf("expected %v, got %v", tc.data, out.data)
			}
			if out.text != tc.text {
				t.Fatalf("expected text=%v", tc.text)
			}
		})
	}
}

func TestEncodeChunkRejects(t *testing.T) {
	for name, chunk := range map[string]any{
		"Nil":    nil,
		"Struct": struct{}{},
		"Map":    map[string]int{"a": 1},
	} {
		if _, err := encodeChunk(chunk, false); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected %v, got %v", name, ErrInvalidArgument, err)
		}
	}
	if _, err := encodeChunk(func() {}, true); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected %v for unencodable value, got %v", ErrInvalidArgument, err)
	}
}

func TestDecodeMessage(t *testing.T) {
	binary := decodeMessage(engine.DataChannelMessage{Data: []byte(`{"a":1}`)}, true)
	if binary.Text || binary.Value != nil {
		t.Fatal("binary frame decoded as an object")
	}

	object := decodeMessage(engine.DataChannelMessage{IsString: true, Data: []byte(`{"a":1}`)}, true)
	if m, ok := object.Value.(map[string]any); !ok || m["a"] != float64(1) {
		t.Fatalf("unexpected value %#v", object.Value)
	}

	text := decodeMessage(engine.DataChannelMessage{IsString: true, Data: []byte("plain words")}, true)
	if text.Value != "plain words" {
		t.Fatalf("unexpected value %#v", text.Value)
	}

	raw := decodeMessage(engine.DataChannelMessage{IsString: true, Data: []byte(`{"a":1}`)}, false)
	if raw.Value != nil || string(raw.Data) != `{"a":1}` {
		t.Fatal("text decoded outside object mode")
	}
}
