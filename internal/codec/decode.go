package codec

import (
	"go.starlark.net/starlark"

	"scriptfilter/internal/reading"
)

// Decode turns a script return value into a fresh reading batch. None yields
// an empty, non-nil batch. Any malformed element fails the whole decode; no
// partial batch is ever returned.
func Decode(v starlark.Value) ([]*reading.Reading, error) {
	if v == nil || v == starlark.None {
		return []*reading.Reading{}, nil
	}
	var elems []starlark.Value
	switch seq := v.(type) {
	case *starlark.List:
		elems = make([]starlark.Value, seq.Len())
		for i := range elems {
			elems[i] = seq.Index(i)
		}
	case starlark.Tuple:
		elems = seq
	default:
		return nil, malformed(-1, "", "want list of reading dicts or None, got %s", v.Type())
	}

	out := make([]*reading.Reading, 0, len(elems))
	for i, elem := range elems {
		r, err := decodeReading(i, elem)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeReading(idx int, v starlark.Value) (*reading.Reading, error) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil, malformed(idx, "", "want dict, got %s", v.Type())
	}
	assetV, ok, err := lookup(d, reading.KeyAsset)
	if err != nil {
		return nil, malformed(idx, reading.KeyAsset, "%v", err)
	}
	if !ok {
		return nil, malformed(idx, reading.KeyAsset, "missing")
	}
	asset, ok := asText(assetV)
	if !ok {
		return nil, malformed(idx, reading.KeyAsset, "want str or bytes, got %s", assetV.Type())
	}
	pointsV, ok, err := lookup(d, reading.KeyReading)
	if err != nil {
		return nil, malformed(idx, reading.KeyReading, "%v", err)
	}
	if !ok {
		return nil, malformed(idx, reading.KeyReading, "missing")
	}
	points, ok := pointsV.(*starlark.Dict)
	if !ok {
		return nil, malformed(idx, reading.KeyReading, "want dict, got %s", pointsV.Type())
	}

	items := points.Items()
	dps := make([]reading.Datapoint, 0, len(items))
	for _, kv := range items {
		name, ok := asText(kv[0])
		if !ok {
			return nil, malformed(idx, kv[0].String(), "datapoint name must be str or bytes, got %s", kv[0].Type())
		}
		val, err := decodeScalar(kv[1])
		if err != nil {
			return nil, malformed(idx, name, "%v", err)
		}
		dps = append(dps, reading.Datapoint{Name: name, Value: val})
	}
	return reading.New(asset, dps...), nil
}

type scalarError struct{ typ string }

func (e scalarError) Error() string { return "unsupported datapoint type " + e.typ }

// decodeScalar accepts exactly int (within int64), float, str and bytes.
// bool is rejected even though scripts may think of it as a number.
func decodeScalar(v starlark.Value) (reading.Value, error) {
	switch x := v.(type) {
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return reading.Value{}, scalarError{typ: "int out of int64 range"}
		}
		return reading.Integer(i), nil
	case starlark.Float:
		return reading.Float(float64(x)), nil
	case starlark.String:
		return reading.Text(string(x)), nil
	case starlark.Bytes:
		return reading.Text(string(x)), nil
	default:
		return reading.Value{}, scalarError{typ: v.Type()}
	}
}

// lookup finds key given either as str or as bytes.
func lookup(d *starlark.Dict, key string) (starlark.Value, bool, error) {
	v, ok, err := d.Get(starlark.String(key))
	if err != nil || ok {
		return v, ok, err
	}
	return d.Get(starlark.Bytes(key))
}

func asText(v starlark.Value) (string, bool) {
	switch x := v.(type) {
	case starlark.String:
		return string(x), true
	case starlark.Bytes:
		return string(x), true
	default:
		return "", false
	}
}
