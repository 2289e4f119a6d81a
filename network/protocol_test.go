package network

import (
	"errors"
	"testing"
)

func TestDecodeClientFrameSubscribe(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"subscribe","id":"s1","query":"typing","params":{"conversation_id":"c","exclude":"u"}}`))
	if err != nil {
		t.Fatalf("DecodeClientFrame failed: %v", err)
	}
	if frame.ID != "s1" || frame.Query != "typing" || frame.Params["exclude"] != "u" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestDecodeClientFrameRejectsInvalidFrames(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"missing type", `{"id":"s1"}`, ErrInvalidMessageType},
		{"unknown type", `{"type":"ping"}`, ErrInvalidMessageType},
		{"subscribe without id", `{"type":"subscribe","query":"users"}`, ErrMissingFrameID},
		{"unsubscribe without id", `{"type":"unsubscribe"}`, ErrMissingFrameID},
	}

	for _, tc := range cases {
		if _, err := DecodeClientFrame([]byte(tc.payload)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := DecodeClientFrame([]byte(`not json`)); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
}
