package schedule

import "testing"

func TestNormalizeVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "hhmm", raw: "18:00", want: "0 18 * * *"},
		{name: "hhmm with minutes", raw: "09:45", want: "45 9 * * *"},
		{name: "five field", raw: "30 18 * * *", want: "30 18 * * *"},
		{name: "five field extra spaces", raw: " 30  18 * * * ", want: "30 18 * * *"},
		{name: "four field defaults minute", raw: "18 * * *", want: "0 18 * * *"},
		{name: "four field star hour", raw: "* * * 1", want: "0 * * * 1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "25:00", "12:75", "1 2 3", "a b c d e f"} {
		if _, err := Normalize(raw); err == nil {
			t.Fatalf("Normalize(%q): expected error", raw)
		}
	}
}
