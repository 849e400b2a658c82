// Package reading is the typed record model exchanged between pipeline
// stages: an asset name plus an ordered set of named Integer, Float or Text
// values.
package reading

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindFloat
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a closed variant: exactly one of the three payloads is meaningful,
// selected by Kind. The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func Integer(v int64) Value    { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func Text(v string) Value      { return Value{kind: KindText, s: v} }
func (v Value) Kind() Kind     { return v.kind }
func (v Value) Valid() bool    { return v.kind >= KindInteger && v.kind <= KindText }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Text() string   { return v.s }

func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	default:
		return "<invalid>"
	}
}

type Datapoint struct {
	Name  string
	Value Value
}

// Reading is immutable once constructed.
type Reading struct {
	id         uuid.UUID
	ts         time.Time
	asset      string
	datapoints []Datapoint
}

// New builds a Reading with a fresh identity and timestamp. The datapoints
// are copied.
func New(asset string, dps ...Datapoint) *Reading {
	return &Reading{
		id:         uuid.New(),
		ts:         time.Now().UTC(),
		asset:      asset,
		datapoints: append([]Datapoint(nil), dps...),
	}
}

// Restore rebuilds a Reading whose identity and timestamp are already known,
// e.g. when it is read back from a wire format.
func Restore(id uuid.UUID, ts time.Time, asset string, dps ...Datapoint) *Reading {
	r := New(asset, dps...)
	if id != uuid.Nil {
		r.id = id
	}
	if !ts.IsZero() {
		r.ts = ts
	}
	return r
}

func (r *Reading) ID() uuid.UUID        { return r.id }
func (r *Reading) Timestamp() time.Time { return r.ts }
func (r *Reading) Asset() string        { return r.asset }
func (r *Reading) Len() int             { return len(r.datapoints) }

// Datapoints returns a copy of the ordered datapoints.
func (r *Reading) Datapoints() []Datapoint {
	return append([]Datapoint(nil), r.datapoints...)
}

// Datapoint returns the first datapoint called name.
func (r *Reading) Datapoint(name string) (Value, bool) {
	for _, dp := range r.datapoints {
		if dp.Name == name {
			return dp.Value, true
		}
	}
	return Value{}, false
}

func (r *Reading) String() string {
	return fmt.Sprintf("%s%v", r.asset, r.datapoints)
}
