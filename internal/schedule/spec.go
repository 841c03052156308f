package schedule

import (
	"fmt"
	"regexp"
	"strings"
)

// Time specs accepted by the registry:
//
//   - "HH:MM"                 → daily at that time (registry timezone)
//   - 5-field cron            → minute hour dom month dow
//   - 4-field cron            → hour dom month dow, minute defaults to 0
//
// Normalize rewrites all three into a canonical 5-field cron expression.
// Validation against the cron parser happens at registration.

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// Normalize converts a raw time spec into a 5-field cron expression.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("time spec required")
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		h, min, err := parseHHMM(m[1], m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", min, h), nil
	}

	fields := strings.Fields(s)
	switch len(fields) {
	case 5:
		return strings.Join(fields, " "), nil
	case 4:
		// minute omitted: top of the hour
		return "0 " + strings.Join(fields, " "), nil
	default:
		return "", fmt.Errorf("invalid time spec %q (use HH:MM or a 4/5-field cron expression)", raw)
	}
}

func parseHHMM(hh, mm string) (int, int, error) {
	var h, m int
	for i := 0; i < len(hh); i++ {
		h = h*10 + int(hh[i]-'0')
	}
	m = int(mm[0]-'0')*10 + int(mm[1]-'0')
	if h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", hh)
	}
	if m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minutes %q", mm)
	}
	return h, m, nil
}
