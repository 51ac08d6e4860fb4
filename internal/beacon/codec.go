package beacon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNilRecord = errors.New("nil record")

// wireBeacon is the serialized form of a Beacon. The data key is dropped
// entirely when there are no records.
type wireBeacon struct {
	Data []json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the beacon as {"data":[...]} or {} when empty.
func (b Beacon) MarshalJSON() ([]byte, error) {
	var w wireBeacon
	for i, r := range b.data {
		raw, err := EncodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
		w.Data = append(w.Data, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON replaces the beacon's records with those decoded from data.
func (b *Beacon) UnmarshalJSON(data []byte) error {
	var w wireBeacon
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	records := make([]Record, 0, len(w.Data))
	for i, raw := range w.Data {
		r, err := DecodeRecord(raw)
		if err != nil {
			return fmt.Errorf("decoding record %d: %w", i, err)
		}
		records = append(records, r)
	}
	b.data = records
	return nil
}

// EncodeRecord serializes r as a JSON object whose first key is "type".
func EncodeRecord(r Record) ([]byte, error) {
	if IsNil(r) {
		return nil, errNilRecord
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", r.Kind(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("record %s does not encode to a JSON object", r.Kind())
	}

	kind, err := json.Marshal(r.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if body[1] != '}' {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// DecodeRecord decodes a record produced by EncodeRecord, dispatching on
// its "type" field.
func DecodeRecord(raw []byte) (Record, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	if head.Type == "" {
		return nil, ErrMissingKind
	}

	r, err := NewRecord(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", head.Type, err)
	}
	return r, nil
}
