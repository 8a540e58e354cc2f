package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"beltline.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.DefaultValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	samples := map[string]string{
		protocol.TypeSubscribe: `{"type":"SUBSCRIBE","protocol_version":"1.0","lanes":["A","B"]}`,
		protocol.TypeInsert:    `{"type":"INSERT","protocol_version":"1.0","request_id":"r1","lane":"A","pos":128,"kind":"ore"}`,
		protocol.TypeTake:      `{"type":"TAKE","protocol_version":"1.0","lane":"B"}`,
		protocol.TypeAck:       `{"type":"ACK","protocol_version":"1.0","tick":3,"ok":false,"code":"E_LANE_FULL","message":"full"}`,
		protocol.TypeTick: `{
		  "type":"TICK","protocol_version":"1.0","tick":7,
		  "digest":"` + strings.Repeat("ab", 32) + `",
		  "lanes":[{"id":"A","items":[{"pos":0,"item_id":"I000001"}]},{"id":"B","items":[]}],
		  "transfers":[{"from":"A","to":"B","item_id":"I000002","pos":250}]
		}`,
	}
	for typ, raw := range samples {
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	v, err := protocol.DefaultValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	bad := []struct {
		typ string
		raw string
	}{
		{protocol.TypeInsert, `{"type":"INSERT","protocol_version":"1.0","lane":"A","pos":-1}`},
		{protocol.TypeInsert, `{"type":"INSERT","protocol_version":"1.0","pos":3}`},
		{protocol.TypeTake, `{"type":"TAKE","protocol_version":"1.0","lane":""}`},
		{protocol.TypeSubscribe, `{"type":"TAKE","protocol_version":"1.0"}`},
		{protocol.TypeAck, `{"type":"ACK","protocol_version":"1.0","tick":1,"ok":true,"code":"nope"}`},
	}
	for _, c := range bad {
		if err := v.Validate(c.typ, []byte(c.raw)); err == nil {
			t.Fatalf("expected %s rejected: %s", c.typ, c.raw)
		}
	}
	if err := v.Validate("HELLO", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown type rejected")
	}
}

func TestSchemas_MessagesRoundTripThroughSchema(t *testing.T) {
	v, err := protocol.DefaultValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, Tick: 2, OK: true, ItemID: "I000009"}
	b, _ := json.Marshal(ack)
	if err := v.Validate(protocol.TypeAck, b); err != nil {
		t.Fatalf("ack: %v", err)
	}
	tick := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            1,
		Digest:          strings.Repeat("0", 64),
		Lanes:           []protocol.LaneFrame{{ID: "A", Items: []protocol.SlotFrame{}}},
	}
	b, _ = json.Marshal(tick)
	if err := v.Validate(protocol.TypeTick, b); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"TAKE","protocol_version":"1.0","lane":"A"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != protocol.TypeTake || m.ProtocolVersion != "1.0" {
		t.Fatalf("unexpected base: %+v", m)
	}
}
