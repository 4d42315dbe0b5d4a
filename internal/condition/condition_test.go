package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionUnmarshalCoercesByFieldType(t *testing.T) {
	var conds []Condition
	raw := `[
		{"field":"current_price","operator":"gt","value":45000.5},
		{"field":"symbol","operator":"eq","value":"BTCUSD"},
		{"field":"pattern_detected","operator":"eq","value":true}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &conds))
	require.Len(t, conds, 3)

	assert.Equal(t, FieldTypeNumeric, conds[0].Value.Kind)
	assert.Equal(t, 45000.5, conds[0].Value.Num)
	assert.Equal(t, FieldTypeString, conds[1].Value.Kind)
	assert.Equal(t, "BTCUSD", conds[1].Value.Str)
	assert.Equal(t, FieldTypeBoolean, conds[2].Value.Kind)
	assert.True(t, conds[2].Value.Bool)
}

func TestConditionUnmarshalRejectsUnknownField(t *testing.T) {
	var c Condition
	err := json.Unmarshal([]byte(`{"field":"moon_phase","operator":"eq","value":1}`), &c)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestConditionUnmarshalRejectsMistypedValue(t *testing.T) {
	var c Condition
	err := json.Unmarshal([]byte(`{"field":"current_price","operator":"gt","value":"high"}`), &c)
	assert.ErrorIs(t, err, ErrValueMismatch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		conds   []Condition
		wantErr error
	}{
		{
			name:    "empty list",
			conds:   nil,
			wantErr: ErrNoConditions,
		},
		{
			name: "valid numeric",
			conds: []Condition{
				{Field: "daily_pnl", Operator: OpLt, Value: Number(-500)},
			},
		},
		{
			name: "ordering on string field",
			conds: []Condition{
				{Field: "symbol", Operator: OpGt, Value: String("BTCUSD")},
			},
			wantErr: ErrOperatorMismatch,
		},
		{
			name: "unknown operator",
			conds: []Condition{
				{Field: "win_rate", Operator: Operator("between"), Value: Number(50)},
			},
			wantErr: ErrUnknownOperator,
		},
		{
			name: "value kind mismatch",
			conds: []Condition{
				{Field: "win_rate", Operator: OpEq, Value: String("50")},
			},
			wantErr: ErrValueMismatch,
		},
		{
			name: "eq on boolean",
			conds: []Condition{
				{Field: "market_open", Operator: OpEq, Value: Boolean(true)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.conds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEvaluateAllConditionsMustMatch(t *testing.T) {
	conds := []Condition{
		{Field: "current_price", Operator: OpGt, Value: Number(50000)},
		{Field: "win_rate", Operator: OpGte, Value: Number(60)},
	}
	snapshot := Snapshot{
		"current_price": Number(51000),
		"win_rate":      Number(55),
	}

	matched, operands := Evaluate(conds, snapshot)
	assert.False(t, matched)
	require.Len(t, operands, 2)
	assert.True(t, operands[0].Match)
	assert.False(t, operands[1].Match)

	snapshot["win_rate"] = Number(60)
	matched, _ = Evaluate(conds, snapshot)
	assert.True(t, matched)
}

func TestEvaluateMissingFieldDoesNotMatch(t *testing.T) {
	conds := []Condition{
		{Field: "drawdown", Operator: OpGt, Value: Number(10)},
	}

	matched, operands := Evaluate(conds, Snapshot{})
	assert.False(t, matched)
	require.Len(t, operands, 1)
	assert.True(t, operands[0].Missing)
	assert.Nil(t, operands[0].Actual)
}

func TestEvaluateEmptyConditionListNeverMatches(t *testing.T) {
	matched, operands := Evaluate(nil, Snapshot{"current_price": Number(1)})
	assert.False(t, matched)
	assert.Empty(t, operands)
}

func TestEvaluateStringAndBooleanEquality(t *testing.T) {
	conds := []Condition{
		{Field: "symbol", Operator: OpEq, Value: String("ETHUSD")},
		{Field: "pattern_detected", Operator: OpEq, Value: Boolean(true)},
	}
	snapshot := Snapshot{
		"symbol":           String("ETHUSD"),
		"pattern_detected": Boolean(true),
	}

	matched, _ := Evaluate(conds, snapshot)
	assert.True(t, matched)

	snapshot["pattern_detected"] = Boolean(false)
	matched, _ = Evaluate(conds, snapshot)
	assert.False(t, matched)
}

func TestSnapshotFromAnyCoercion(t *testing.T) {
	snapshot := SnapshotFromAny(map[string]any{
		"current_price":    float64(42000),
		"trade_count":      17,
		"symbol":           "BTCUSD",
		"pattern_detected": true,
		"moon_phase":       1.0,    // unknown field
		"win_rate":         "high", // wrong type
	})

	assert.Equal(t, Number(42000), snapshot["current_price"])
	assert.Equal(t, Number(17), snapshot["trade_count"])
	assert.Equal(t, String("BTCUSD"), snapshot["symbol"])
	assert.Equal(t, Boolean(true), snapshot["pattern_detected"])
	assert.NotContains(t, snapshot, "moon_phase")
	assert.NotContains(t, snapshot, "win_rate")
}
