package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// StrategyKind names a missing-value treatment.
type StrategyKind string

const (
	StrategyNone   StrategyKind = "none"
	StrategyDrop   StrategyKind = "drop"
	StrategyMean   StrategyKind = "mean"
	StrategyMedian StrategyKind = "median"
	StrategyMode   StrategyKind = "mode"
	StrategyZero   StrategyKind = "zero"
	StrategyEmpty  StrategyKind = "empty"
	StrategyCustom StrategyKind = "custom"
)

// ErrCustomValueRequired is returned when a custom treatment has no value.
var ErrCustomValueRequired = errors.New("custom strategy requires a non-empty value")

// Treatment is a missing-value treatment. The set of implementations is closed.
type Treatment interface {
	Kind() StrategyKind
	isTreatment()
}

type (
	// NoTreatment leaves missing values untouched.
	NoTreatment struct{}
	// Drop removes rows with a missing value in the column.
	Drop struct{}
	// Mean fills with the column mean.
	Mean struct{}
	// Median fills with the column median.
	Median struct{}
	// Mode fills with the most frequent value.
	Mode struct{}
	// Zero fills with 0.
	Zero struct{}
	// EmptyString fills with "".
	EmptyString struct{}
	// Custom fills with a user supplied value.
	Custom struct{ Value string }
)

func (NoTreatment) Kind() StrategyKind { return StrategyNone }
func (Drop) Kind() StrategyKind        { return StrategyDrop }
func (Mean) Kind() StrategyKind        { return StrategyMean }
func (Median) Kind() StrategyKind      { return StrategyMedian }
func (Mode) Kind() StrategyKind        { return StrategyMode }
func (Zero) Kind() StrategyKind        { return StrategyZero }
func (EmptyString) Kind() StrategyKind { return StrategyEmpty }
func (Custom) Kind() StrategyKind      { return StrategyCustom }

func (NoTreatment) isTreatment() {}
func (Drop) isTreatment()        {}
func (Mean) isTreatment()        {}
func (Median) isTreatment()      {}
func (Mode) isTreatment()        {}
func (Zero) isTreatment()        {}
func (EmptyString) isTreatment() {}
func (Custom) isTreatment()      {}

// ParseTreatment builds a Treatment from its kind and optional value.
func ParseTreatment(kind StrategyKind, value string) (Treatment, error) {
	switch kind {
	case StrategyNone, "":
		return NoTreatment{}, nil
	case StrategyDrop:
		return Drop{}, nil
	case StrategyMean:
		return Mean{}, nil
	case StrategyMedian:
		return Median{}, nil
	case StrategyMode:
		return Mode{}, nil
	case StrategyZero:
		return Zero{}, nil
	case StrategyEmpty:
		return EmptyString{}, nil
	case StrategyCustom:
		if strings.TrimSpace(value) == "" {
			return nil, ErrCustomValueRequired
		}
		return Custom{Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown missing value strategy %q", kind)
	}
}

// MissingValueStrategy is the stage U5 decision for one column.
type MissingValueStrategy struct {
	ColumnName string
	Treatment  Treatment
}

// Kind returns the strategy kind, treating a nil Treatment as none.
func (s MissingValueStrategy) Kind() StrategyKind {
	if s.Treatment == nil {
		return StrategyNone
	}
	return s.Treatment.Kind()
}

// StrategyRecord is the flat wire form of a MissingValueStrategy.
type StrategyRecord struct {
	ColumnName string       `json:"columnName" msgpack:"columnName"`
	Strategy   StrategyKind `json:"strategy" msgpack:"strategy"`
	Value      string       `json:"value,omitempty" msgpack:"value,omitempty"`
}

// Record flattens the strategy.
func (s MissingValueStrategy) Record() StrategyRecord {
	rec := StrategyRecord{ColumnName: s.ColumnName, Strategy: s.Kind()}
	if c, ok := s.Treatment.(Custom); ok {
		rec.Value = c.Value
	}
	return rec
}

// Parse rebuilds the tagged form of the record.
func (r StrategyRecord) Parse() (MissingValueStrategy, error) {
	t, err := ParseTreatment(r.Strategy, r.Value)
	if err != nil {
		return MissingValueStrategy{}, fmt.Errorf("column %s: %w", r.ColumnName, err)
	}
	return MissingValueStrategy{ColumnName: r.ColumnName, Treatment: t}, nil
}

// DecodeCustomValue reads a custom fill value given as a JSON string or a bare
// number. An absent or null value is empty.
func DecodeCustomValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("custom value must be a string or a number: %w", err)
	}
	return n.String(), nil
}

// MarshalJSON encodes the strategy as {columnName, strategy, value?}.
func (s MissingValueStrategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

// UnmarshalJSON accepts a string or a bare number as the custom value.
func (s *MissingValueStrategy) UnmarshalJSON(data []byte) error {
	var raw struct {
		ColumnName string          `json:"columnName"`
		Strategy   StrategyKind    `json:"strategy"`
		Value      json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := DecodeCustomValue(raw.Value)
	if err != nil {
		return fmt.Errorf("column %s: %w", raw.ColumnName, err)
	}
	rec := StrategyRecord{ColumnName: raw.ColumnName, Strategy: raw.Strategy, Value: value}
	parsed, err := rec.Parse()
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (s MissingValueStrategy) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(s.Record())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (s *MissingValueStrategy) DecodeMsgpack(dec *msgpack.Decoder) error {
	var rec StrategyRecord
	if err := dec.Decode(&rec); err != nil {
		return err
	}
	parsed, err := rec.Parse()
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
