package protocol

import (
	"encoding/json"
	"regexp"
	"time"
)

// isoDatePattern matches full ISO-8601 timestamps such as 2018-05-24T12:00:00.123Z.
var isoDatePattern = regexp.MustCompile(`^\d{4}-[01]\d-[0-3]\dT[0-2]\d:[0-5]\d:[0-5]\d(\.\d+)?(Z|[+-][01]\d:[0-5]\d)$`)

// ParseWithDates decodes JSON into generic values, replacing every string that
// is an ISO-8601 timestamp with the equivalent time.Time.
func ParseWithDates(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return upgradeDates(v), nil
}

func upgradeDates(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if !isoDatePattern.MatchString(val) {
			return val
		}
		// The pattern admits out-of-range hours such as 29; those stay strings.
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t
		}
		return val
	case map[string]interface{}:
		for k, item := range val {
			val[k] = upgradeDates(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = upgradeDates(item)
		}
		return val
	default:
		return v
	}
}
