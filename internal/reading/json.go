package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire keys shared by the JSON codec and the script marshaller.
const (
	KeyAsset   = "asset_code"
	KeyReading = "reading"
)

var ErrBadJSON = errors.New("reading: malformed JSON reading")

// MarshalJSON keeps the Integer/Float distinction on the wire: floats always
// carry a fraction or exponent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("reading: float %v has no JSON form", v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case KindText:
		return json.Marshal(v.s)
	default:
		return nil, fmt.Errorf("reading: cannot encode %s value", v.kind)
	}
}

type wireReading struct {
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"ts,omitempty"`
	Asset     string          `json:"asset_code"`
	Reading   json.RawMessage `json:"reading"`
}

func (r *Reading) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dp := range r.datapoints {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(dp.Name)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := dp.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("datapoint %q: %w", dp.Name, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return json.Marshal(wireReading{
		ID:        r.id.String(),
		Timestamp: r.ts.Format(time.RFC3339Nano),
		Asset:     r.asset,
		Reading:   buf.Bytes(),
	})
}

// DecodeJSON accepts a single reading object or an array of them. Datapoint
// order follows the document.
func DecodeJSON(raw []byte) ([]*Reading, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadJSON)
	}
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
	} else {
		items = []json.RawMessage{raw}
	}
	out := make([]*Reading, 0, len(items))
	for i, item := range items {
		r, err := decodeOne(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeOne(raw json.RawMessage) (*Reading, error) {
	var w wireReading
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if len(w.Reading) == 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrBadJSON, KeyReading)
	}
	dps, err := decodeDatapoints(w.Reading)
	if err != nil {
		return nil, err
	}
	var id uuid.UUID
	if w.ID != "" {
		if id, err = uuid.Parse(w.ID); err != nil {
			return nil, fmt.Errorf("%w: id: %v", ErrBadJSON, err)
		}
	}
	var ts time.Time
	if w.Timestamp != "" {
		if ts, err = time.Parse(time.RFC3339Nano, w.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: ts: %v", ErrBadJSON, err)
		}
	}
	return Restore(id, ts, w.Asset, dps...), nil
}

// decodeDatapoints walks the object token by token so the datapoint order is
// kept and numbers stay json.Number.
func decodeDatapoints(raw json.RawMessage) ([]Datapoint, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: %q must be an object", ErrBadJSON, KeyReading)
	}
	var dps []Datapoint
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		name, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		var v Value
		switch x := vt.(type) {
		case json.Number:
			if v, err = numberValue(x); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadJSON, name, err)
			}
		case string:
			v = Text(x)
		default:
			return nil, fmt.Errorf("%w: %q: unsupported value %v", ErrBadJSON, name, vt)
		}
		dps = append(dps, Datapoint{Name: name, Value: v})
	}
	return dps, nil
}

func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Integer(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, err
	}
	return Float(f), nil
}
