// Package codec converts reading batches to and from the Starlark object
// graph handed to filter scripts.
//
// One reading travels as
//
//	{"asset_code": <text>, "reading": {<name>: <int|float|text>, ...}}
//
// and a batch as a list of those dicts. A script returning None asks for the
// whole batch to be dropped.
package codec

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"

	"scriptfilter/internal/reading"
)

// Mode selects how datapoint names and text travel into the script.
type Mode uint8

const (
	// ModePlain uses str for names, asset codes and text values.
	ModePlain Mode = iota
	// ModeLegacyBytes uses bytes for names, asset codes and text values, for
	// scripts written against the original byte-string convention.
	ModeLegacyBytes
)

func (m Mode) String() string {
	if m == ModeLegacyBytes {
		return "legacy-bytes"
	}
	return "plain"
}

// ModeFor maps the encode_attribute_names flag to a Mode.
func ModeFor(encodeNames bool) Mode {
	if encodeNames {
		return ModeLegacyBytes
	}
	return ModePlain
}

var ErrMalformedResult = errors.New("codec: malformed script result")

// MalformedError pinpoints the offending element of a script result.
type MalformedError struct {
	Index  int // -1 when the result as a whole is wrong
	Key    string
	Reason string
}

func (e *MalformedError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("%v: %s", ErrMalformedResult, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("%v: element %d, %q: %s", ErrMalformedResult, e.Index, e.Key, e.Reason)
	default:
		return fmt.Sprintf("%v: element %d: %s", ErrMalformedResult, e.Index, e.Reason)
	}
}

func (e *MalformedError) Unwrap() error { return ErrMalformedResult }

func malformed(idx int, key, format string, args ...any) error {
	return &MalformedError{Index: idx, Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Encode builds a fresh list of reading dicts. The input is not touched.
func Encode(readings []*reading.Reading, mode Mode) (*starlark.List, error) {
	elems := make([]starlark.Value, 0, len(readings))
	for i, r := range readings {
		d, err := encodeReading(r, mode)
		if err != nil {
			return nil, fmt.Errorf("codec: encode reading %d (%s): %w", i, r.Asset(), err)
		}
		elems = append(elems, d)
	}
	return starlark.NewList(elems), nil
}

func encodeReading(r *reading.Reading, mode Mode) (*starlark.Dict, error) {
	dps := r.Datapoints()
	points := starlark.NewDict(len(dps))
	for _, dp := range dps {
		v, err := encodeScalar(dp.Value, mode)
		if err != nil {
			return nil, fmt.Errorf("datapoint %q: %w", dp.Name, err)
		}
		if err := points.SetKey(text(dp.Name, mode), v); err != nil {
			return nil, err
		}
	}
	out := starlark.NewDict(2)
	if err := out.SetKey(starlark.String(reading.KeyAsset), text(r.Asset(), mode)); err != nil {
		return nil, err
	}
	if err := out.SetKey(starlark.String(reading.KeyReading), points); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeScalar(v reading.Value, mode Mode) (starlark.Value, error) {
	switch v.Kind() {
	case reading.KindInteger:
		return starlark.MakeInt64(v.Int()), nil
	case reading.KindFloat:
		return starlark.Float(v.Float()), nil
	case reading.KindText:
		return text(v.Text(), mode), nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind())
	}
}

func text(s string, mode Mode) starlark.Value {
	if mode == ModeLegacyBytes {
		return starlark.Bytes(s)
	}
	return starlark.String(s)
}
