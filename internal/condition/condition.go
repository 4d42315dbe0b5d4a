// Package condition holds the alert trigger model: typed field/operator/value
// comparisons evaluated against live metric snapshots.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type FieldType string

const (
	FieldTypeNumeric FieldType = "numeric"
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
)

type Operator string

const (
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpEq  Operator = "eq"
)

var (
	ErrNoConditions     = errors.New("no_conditions")
	ErrUnknownField     = errors.New("unknown_field")
	ErrUnknownOperator  = errors.New("unknown_operator")
	ErrOperatorMismatch = errors.New("operator_type_mismatch")
	ErrValueMismatch    = errors.New("value_type_mismatch")
)

// fieldTypes is the closed metric vocabulary. The metric source adapter
// produces snapshots keyed by these names; anything else is rejected at
// alert creation.
var fieldTypes = map[string]FieldType{
	"current_price":    FieldTypeNumeric,
	"daily_pnl":        FieldTypeNumeric,
	"total_pnl":        FieldTypeNumeric,
	"drawdown":         FieldTypeNumeric,
	"win_rate":         FieldTypeNumeric,
	"trade_count":      FieldTypeNumeric,
	"volume":           FieldTypeNumeric,
	"symbol":           FieldTypeString,
	"strategy":         FieldTypeString,
	"pattern_detected": FieldTypeBoolean,
	"market_open":      FieldTypeBoolean,
}

// FieldTypeOf reports the declared type for a metric field.
func FieldTypeOf(field string) (FieldType, bool) {
	t, ok := fieldTypes[strings.TrimSpace(field)]
	return t, ok
}

// Fields returns the metric vocabulary.
func Fields() map[string]FieldType {
	out := make(map[string]FieldType, len(fieldTypes))
	for k, v := range fieldTypes {
		out[k] = v
	}
	return out
}

// Value is a typed comparison value, tagged by the field's declared type.
type Value struct {
	Kind FieldType
	Num  float64
	Str  string
	Bool bool
}

func Number(v float64) Value { return Value{Kind: FieldTypeNumeric, Num: v} }
func String(v string) Value  { return Value{Kind: FieldTypeString, Str: v} }
func Boolean(v bool) Value   { return Value{Kind: FieldTypeBoolean, Bool: v} }

// Scalar returns the untyped representation used in JSON payloads.
func (v Value) Scalar() any {
	switch v.Kind {
	case FieldTypeNumeric:
		return v.Num
	case FieldTypeString:
		return v.Str
	case FieldTypeBoolean:
		return v.Bool
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Scalar())
}

// Condition is a single field/operator/value comparison. Conditions within
// one alert are ANDed; there is no OR support.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

type rawCondition struct {
	Field    string          `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// UnmarshalJSON coerces the untyped stored value into a typed Value using
// the field vocabulary, so evaluation never re-parses untyped JSON.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw rawCondition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	field := strings.TrimSpace(raw.Field)
	fieldType, ok := fieldTypes[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	value := Value{Kind: fieldType}
	switch fieldType {
	case FieldTypeNumeric:
		if err := json.Unmarshal(raw.Value, &value.Num); err != nil {
			return fmt.Errorf("%w: %s", ErrValueMismatch, field)
		}
	case FieldTypeString:
		if err := json.Unmarshal(raw.Value, &value.Str); err != nil {
			return fmt.Errorf("%w: %s", ErrValueMismatch, field)
		}
	case FieldTypeBoolean:
		if err := json.Unmarshal(raw.Value, &value.Bool); err != nil {
			return fmt.Errorf("%w: %s", ErrValueMismatch, field)
		}
	}

	c.Field = field
	c.Operator = raw.Operator
	c.Value = value
	return nil
}

// Validate rejects configuration errors at alert-creation time: unknown
// fields, unsupported operators, operator/type mismatches and empty lists.
func Validate(conds []Condition) error {
	if len(conds) == 0 {
		return ErrNoConditions
	}
	for _, c := range conds {
		fieldType, ok := fieldTypes[strings.TrimSpace(c.Field)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
		}
		switch c.Operator {
		case OpGt, OpGte, OpLt, OpLte:
			if fieldType != FieldTypeNumeric {
				return fmt.Errorf("%w: %s %s", ErrOperatorMismatch, c.Field, c.Operator)
			}
		case OpEq:
		default:
			return fmt.Errorf("%w: %s", ErrUnknownOperator, c.Operator)
		}
		if c.Value.Kind != fieldType {
			return fmt.Errorf("%w: %s", ErrValueMismatch, c.Field)
		}
	}
	return nil
}
