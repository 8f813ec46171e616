package loadmonitor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the coarse system load classification
type Level int32

const (
	Normal Level = iota
	Elevated
	Critical
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// High reports whether adaptive rules should tighten
func (l Level) High() bool {
	return l == Elevated || l == Critical
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return Normal, nil
	case "elevated":
		return Elevated, nil
	case "critical":
		return Critical, nil
	default:
		return Normal, fmt.Errorf("unknown load level %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}
