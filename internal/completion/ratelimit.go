package completion

import "encoding/json"

// rawRateLimitWindow mirrors the provider's wire shape for one window, as
// carried in an SSE chunk (see extractRateLimitMetadata). WSBackend's
// inbound frames have a rate_limits field of the same shape, which it does
// not parse.
type rawRateLimitWindow struct {
	UsedPercent     float64 `json:"used_percent"`
	WindowMinutes   int     `json:"window_minutes,omitempty"`
	ResetsInSeconds int     `json:"resets_in_seconds,omitempty"`
}

type rawRateLimitMetadata struct {
	FiveHour *rawRateLimitWindow `json:"five_hour,omitempty"`
	Weekly   *rawRateLimitWindow `json:"weekly,omitempty"`
}

// ParseRateLimitMetadata extracts the optional five-hour and weekly
// rate-limit windows from a completion response's trailing metadata blob,
// per spec.md §4.D. A missing or unparseable blob yields a zero-value
// RateLimitMetadata rather than an error: rate-limit reporting is
// best-effort and must never fail a turn.
func ParseRateLimitMetadata(raw json.RawMessage) RateLimitMetadata {
	if len(raw) == 0 {
		return RateLimitMetadata{}
	}
	var parsed rawRateLimitMetadata
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return RateLimitMetadata{}
	}
	out := RateLimitMetadata{}
	if parsed.FiveHour != nil {
		out.FiveHour = &RateLimitWindow{
			UsedPercent:     parsed.FiveHour.UsedPercent,
			WindowMinutes:   parsed.FiveHour.WindowMinutes,
			ResetsInSeconds: parsed.FiveHour.ResetsInSeconds,
		}
	}
	if parsed.Weekly != nil {
		out.Weekly = &RateLimitWindow{
			UsedPercent:     parsed.Weekly.UsedPercent,
			WindowMinutes:   parsed.Weekly.WindowMinutes,
			ResetsInSeconds: parsed.Weekly.ResetsInSeconds,
		}
	}
	return out
}
