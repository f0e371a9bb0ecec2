package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ScheduleKind is the tagged-variant discriminator for ScheduleSpec
// (spec §9: sum types for the original's string-typed unions).
type ScheduleKind string

const (
	ScheduleOnce  ScheduleKind = "once"
	ScheduleEvery ScheduleKind = "every"
)

// ScheduleSpec is one of `once` or `every N {s|m|h|d}` (spec §3).
type ScheduleSpec struct {
	Kind     ScheduleKind
	Interval time.Duration
	Raw      string
}

// directivePattern matches a leading schedule directive anywhere in
// the first ten lines of a script body (spec §6.1).
var directivePattern = regexp.MustCompile(`(?i)//\s*@schedule\s+(.+)`)

const directiveScanLines = 10

// ParseDirective scans the first ten lines of body for a `// @schedule`
// directive and parses it. It returns (nil, nil) when no directive is
// present, and (nil, err) when one is present but malformed — per
// spec §3 a malformed spec is logged and the script treated as
// unscheduled, so callers should log err and proceed with a nil spec.
func ParseDirective(body string) (*ScheduleSpec, error) {
	lines := strings.Split(body, "\n")
	if len(lines) > directiveScanLines {
		lines = lines[:directiveScanLines]
	}
	for _, line := range lines {
		m := directivePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return ParseScheduleSpec(strings.TrimSpace(m[1]))
	}
	return nil, nil
}

// ParseScheduleSpec parses the textual form of a ScheduleSpec: `once`
// or `every N {s|m|h|d}`.
func ParseScheduleSpec(raw string) (*ScheduleSpec, error) {
	trimmed := strings.TrimSpace(raw)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty schedule spec")
	}

	switch strings.ToLower(fields[0]) {
	case "once":
		if len(fields) != 1 {
			return nil, fmt.Errorf("malformed schedule spec %q: \"once\" takes no argument", raw)
		}
		return &ScheduleSpec{Kind: ScheduleOnce, Raw: trimmed}, nil

	case "every":
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed schedule spec %q: expected \"every N unit\"", raw)
		}
		interval, err := parseEvery(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed schedule spec %q: %w", raw, err)
		}
		return &ScheduleSpec{Kind: ScheduleEvery, Interval: interval, Raw: trimmed}, nil

	default:
		return nil, fmt.Errorf("malformed schedule spec %q: unknown kind %q", raw, fields[0])
	}
}

func parseEvery(token string) (time.Duration, error) {
	if token == "" {
		return 0, fmt.Errorf("missing interval")
	}
	unit := token[len(token)-1]
	numPart := token[:len(token)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", token)
	}

	var unitDur time.Duration
	switch unit {
	case 's':
		unitDur = time.Second
	case 'm':
		unitDur = time.Minute
	case 'h':
		unitDur = time.Hour
	case 'd':
		unitDur = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown unit %q, expected one of s|m|h|d", string(unit))
	}
	return time.Duration(n) * unitDur, nil
}
