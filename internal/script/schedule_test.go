package script

import (
	"testing"
	"time"
)

func TestParseDirectiveOnce(t *testing.T) {
	body := "// @schedule once\nCLICK button\n"
	spec, err := ParseDirective(body)
	if err != nil {
		t.Fatalf("ParseDirective: %v", err)
	}
	if spec == nil || spec.Kind != ScheduleOnce {
		t.Fatalf("expected once spec, got %+v", spec)
	}
}

func TestParseDirectiveEvery(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"every 2s", 2 * time.Second},
		{"every 5m", 5 * time.Minute},
		{"every 1h", time.Hour},
		{"every 3d", 3 * 24 * time.Hour},
	}
	for _, c := range cases {
		body := "// @schedule " + c.raw + "\nbody\n"
		spec, err := ParseDirective(body)
		if err != nil {
			t.Fatalf("%s: ParseDirective: %v", c.raw, err)
		}
		if spec == nil || spec.Kind != ScheduleEvery || spec.Interval != c.want {
			t.Fatalf("%s: expected every %v, got %+v", c.raw, c.want, spec)
		}
	}
}

func TestParseDirectiveCaseInsensitiveMarker(t *testing.T) {
	body := "// @SCHEDULE every 10s\nbody\n"
	spec, err := ParseDirective(body)
	if err != nil || spec == nil {
		t.Fatalf("expected spec, got %+v, err=%v", spec, err)
	}
}

func TestParseDirectiveAbsentReturnsNil(t *testing.T) {
	spec, err := ParseDirective("CLICK button\nTYPE hello\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec != nil {
		t.Fatalf("expected nil spec, got %+v", spec)
	}
}

func TestParseDirectiveOnlyScansFirstTenLines(t *testing.T) {
	body := ""
	for i := 0; i < 12; i++ {
		body += "line\n"
	}
	body += "// @schedule once\n"
	spec, err := ParseDirective(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec != nil {
		t.Fatal("expected directive past line 10 to be ignored")
	}
}

func TestParseScheduleSpecMalformed(t *testing.T) {
	cases := []string{"", "every", "every 2", "every 2x", "hourly", "once now"}
	for _, c := range cases {
		if _, err := ParseScheduleSpec(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}
