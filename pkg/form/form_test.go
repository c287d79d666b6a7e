package form_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/MrWong99/voiceform/pkg/form"
)

func TestIsUnset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"null", true},
		{"NULL", true},
		{" Null ", true},
		{"nullable", false},
		{"Acme Corp", false},
		{"0", false},
	}
	for _, tt := range tests {
		if got := form.IsUnset(tt.in); got != tt.want {
			t.Errorf("IsUnset(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMerge_DropsUnknownKeys(t *testing.T) {
	t.Parallel()
	d := form.New(form.Schema{"A", "B"})

	updated := d.Merge(map[string]string{"B": "2", "C": "3", "A": "1"})
	if len(updated) != 2 || updated[0] != "A" || updated[1] != "B" {
		t.Errorf("updated = %v, want [A B]", updated)
	}
	snap := d.Snapshot()
	if _, ok := snap["C"]; ok {
		t.Error("unknown key C was merged")
	}
	if len(snap) != 2 {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestMerge_LastWriteWins(t *testing.T) {
	t.Parallel()
	d := form.New(form.Schema{"SiteCompanyName1"})
	d.Merge(map[string]string{"SiteCompanyName1": "Acme"})
	d.Merge(map[string]string{"SiteCompanyName1": "Acme Corp"})

	if v, ok := d.Get("SiteCompanyName1"); !ok || v != "Acme Corp" {
		t.Errorf("Get = %q, %v; want Acme Corp", v, ok)
	}
}

func TestFilled_AppliesUnsetRule(t *testing.T) {
	t.Parallel()
	d := form.New(form.Schema{"A", "B", "C", "D"})
	d.Merge(map[string]string{"A": "x", "B": "", "C": "NULL"})

	got := d.Filled()
	if len(got) != 1 || got["A"] != "x" {
		t.Errorf("Filled = %v, want only A", got)
	}
	if _, ok := d.Get("C"); ok {
		t.Error(`Get("C") reported set for "NULL"`)
	}
}

func TestMarshalJSON_SchemaOrderAndNulls(t *testing.T) {
	t.Parallel()
	d := form.New(form.Schema{"Zeta", "Alpha", "Mid"})
	d.Merge(map[string]string{"Alpha": "a", "Mid": "null"})

	got, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"Zeta":null,"Alpha":"a","Mid":null}`
	if string(got) != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestMarshalJSON_Deterministic(t *testing.T) {
	t.Parallel()
	d := form.New(form.DefaultSchema)
	d.Merge(map[string]string{"SiteCity": "Springfield", "SiteZip": "12345"})

	a, _ := json.MarshalIndent(d, "", "  ")
	b, _ := json.MarshalIndent(d, "", "  ")
	if !bytes.Equal(a, b) {
		t.Error("two encodings differ")
	}
}

func TestUnmarshalJSON_RoundTrip(t *testing.T) {
	t.Parallel()
	src := form.New(form.DefaultSchema)
	src.Merge(map[string]string{"SiteCompanyName1": "Acme Corp", "Bogus": "x"})
	data, _ := json.Marshal(src)

	dst := form.New(form.DefaultSchema)
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v, ok := dst.Get("SiteCompanyName1"); !ok || v != "Acme Corp" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	if len(dst.Snapshot()) != 1 {
		t.Errorf("snapshot = %v, want one value", dst.Snapshot())
	}
}

func TestDefaultSchema_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for _, f := range form.DefaultSchema {
		if seen[f] {
			t.Errorf("duplicate field %q", f)
		}
		seen[f] = true
	}
	if !form.DefaultSchema.Has("MCC-Desc") {
		t.Error("missing MCC-Desc")
	}
}
