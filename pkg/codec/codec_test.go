package codec_test

import (
	"testing"

	"github.com/snehjoshi/relayq/pkg/codec"
)

func TestJSON_RoundTrip(t *testing.T) {
	type payment struct {
		Ref    string  `json:"ref"`
		Amount float64 `json:"amount"`
	}

	c := codec.JSON[payment]{}
	in := payment{Ref: "inv-42", Amount: 19.99}

	data, err := c.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out, err := c.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if out != in {
		t.Errorf("round trip: want %+v, got %+v", in, out)
	}
}

func TestJSON_SerializeUnsupportedType(t *testing.T) {
	c := codec.JSON[chan int]{}
	if _, err := c.Serialize(make(chan int)); err == nil {
		t.Error("expected an error for an unmarshalable type")
	}
}

func TestJSON_DeserializeGarbage(t *testing.T) {
	c := codec.JSON[map[string]int]{}
	if _, err := c.Deserialize([]byte("{not json")); err == nil {
		t.Error("expected an error for malformed input")
	}
}

func TestBytes_PassThrough(t *testing.T) {
	c := codec.Bytes{}
	in := []byte{0x00, 0xff, 0x10}

	data, err := c.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out, err := c.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("pass-through altered the bytes: %x != %x", out, in)
	}
}
