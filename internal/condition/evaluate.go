package condition

// Snapshot is a point-in-time map of metric field values for one evaluation.
type Snapshot map[string]Value

// Operand records how one condition evaluated, for the audit trail.
type Operand struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Expected any      `json:"expected"`
	Actual   any      `json:"actual,omitempty"`
	Missing  bool     `json:"missing,omitempty"`
	Match    bool     `json:"match"`
}

// SnapshotFromAny builds a typed snapshot from untyped values, coercing
// each entry through the field vocabulary. Unknown fields and mistyped
// values are dropped so a caller supplied snapshot can never widen the
// vocabulary.
func SnapshotFromAny(values map[string]any) Snapshot {
	snapshot := make(Snapshot, len(values))
	for field, raw := range values {
		fieldType, ok := fieldTypes[field]
		if !ok {
			continue
		}
		switch fieldType {
		case FieldTypeNumeric:
			switch n := raw.(type) {
			case float64:
				snapshot[field] = Number(n)
			case int:
				snapshot[field] = Number(float64(n))
			case int64:
				snapshot[field] = Number(float64(n))
			}
		case FieldTypeString:
			if s, ok := raw.(string); ok {
				snapshot[field] = String(s)
			}
		case FieldTypeBoolean:
			if b, ok := raw.(bool); ok {
				snapshot[field] = Boolean(b)
			}
		}
	}
	return snapshot
}

// Evaluate checks all conditions against the snapshot (logical AND) and
// returns the evaluated operand trail. A field missing from the snapshot is
// not an error: the condition is non-matching and the gap is recorded.
// Evaluate is pure and safe for concurrent use.
func Evaluate(conds []Condition, snapshot Snapshot) (bool, []Operand) {
	matched := len(conds) > 0
	operands := make([]Operand, 0, len(conds))

	for _, c := range conds {
		actual, ok := snapshot[c.Field]
		if !ok {
			matched = false
			operands = append(operands, Operand{
				Field:    c.Field,
				Operator: c.Operator,
				Expected: c.Value.Scalar(),
				Missing:  true,
			})
			continue
		}

		match := compare(c.Operator, actual, c.Value)
		if !match {
			matched = false
		}
		operands = append(operands, Operand{
			Field:    c.Field,
			Operator: c.Operator,
			Expected: c.Value.Scalar(),
			Actual:   actual.Scalar(),
			Match:    match,
		})
	}

	return matched, operands
}

func compare(op Operator, actual, expected Value) bool {
	if actual.Kind != expected.Kind {
		return false
	}
	switch expected.Kind {
	case FieldTypeNumeric:
		switch op {
		case OpGt:
			return actual.Num > expected.Num
		case OpGte:
			return actual.Num >= expected.Num
		case OpLt:
			return actual.Num < expected.Num
		case OpLte:
			return actual.Num <= expected.Num
		case OpEq:
			return actual.Num == expected.Num
		}
	case FieldTypeString:
		return op == OpEq && actual.Str == expected.Str
	case FieldTypeBoolean:
		return op == OpEq && actual.Bool == expected.Bool
	}
	return false
}
