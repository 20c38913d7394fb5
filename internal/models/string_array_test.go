package models

import "testing"

func TestStringArrayScan(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want []string
	}{
		{"nil", nil, []string{}},
		{"json", `["call.completed","recording.ready"]`, []string{"call.completed", "recording.ready"}},
		{"bytes", []byte(`["call.failed"]`), []string{"call.failed"}},
		{"comma separated", "call.started, call.failed", []string{"call.started", "call.failed"}},
		{"null literal", "null", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got StringArray
			if err := got.Scan(tc.in); err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestStringArrayValueNil(t *testing.T) {
	v, err := StringArray(nil).Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "[]" {
		t.Fatalf("expected [], got %v", v)
	}
}
