package config

import (
	"math"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestTableValidate(t *testing.T) {
	cases := []struct {
		name    string
		table   Table
		wantErr bool
	}{
		{
			name:    "empty",
			table:   Table{},
			wantErr: true,
		},
		{
			name:  "default grid table",
			table: DefaultGridTable(),
		},
		{
			name:  "default interval table",
			table: DefaultIntervalTable(),
		},
		{
			name: "gap between bands",
			table: Table{
				{Lower: 0, Upper: 0.2, Value: 1},
				{Lower: 0.3, Upper: math.Inf(1), Value: 2},
			},
			wantErr: true,
		},
		{
			name: "overlap between bands",
			table: Table{
				{Lower: 0, Upper: 0.3, Value: 1},
				{Lower: 0.2, Upper: math.Inf(1), Value: 2},
			},
			wantErr: true,
		},
		{
			name: "missing catch-all",
			table: Table{
				{Lower: 0, Upper: 0.2, Value: 1},
				{Lower: 0.2, Upper: 1.2, Value: 2},
			},
			wantErr: true,
		},
		{
			name: "first band not from zero",
			table: Table{
				{Lower: 0.1, Upper: math.Inf(1), Value: 1},
			},
			wantErr: true,
		},
		{
			name: "inverted band",
			table: Table{
				{Lower: 0, Upper: 0, Value: 1},
			},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.table.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTableLookup(t *testing.T) {
	table := DefaultGridTable()

	cases := []struct {
		vol  float64
		want float64
	}{
		{0.0, 1.0},
		{0.19, 1.0},
		{0.2, 1.5}, // upper bound is exclusive
		{0.45, 2.0},
		{1.19, 3.5},
		{1.2, 4.0},
		{99.0, 4.0}, // catch-all
		{-0.1, 1.0}, // clamps below
	}
	for _, tc := range cases {
		if got := table.Lookup(tc.vol); got != tc.want {
			t.Errorf("Lookup(%v) = %v, want %v", tc.vol, got, tc.want)
		}
	}
}

func TestTableYAMLInfinity(t *testing.T) {
	raw := `
- lower: 0
  upper: 0.5
  value: 1.0
- lower: 0.5
  upper: .inf
  value: 2.0
`
	var table Table
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := table.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !math.IsInf(table[len(table)-1].Upper, 1) {
		t.Error("expected last band upper to parse as +Inf")
	}
	if got := table.Lookup(100); got != 2.0 {
		t.Errorf("Lookup(100) = %v, want 2.0", got)
	}
}
