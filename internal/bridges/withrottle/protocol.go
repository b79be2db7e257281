package withrottle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/railhub/internal/state"
)

// Line prefixes received from the server.
const (
	prefixRoster    = "RL"
	prefixAction    = "MTA"
	prefixLabels    = "MTL"
	prefixAcquired  = "MT+"
	prefixPower     = "PPA"
	prefixHeartbeat = "*"
)

// Field separators used by the wire protocol.
const (
	sepEntry   = "]\\["
	sepField   = "}|{"
	sepAddress = "<;>"
)

// Outbound control lines.
const (
	lineKeepAlive = "*"
	lineQuit      = "Q"
)

// ignoredPrefixes are informational lines the bridge has no use for.
var ignoredPrefixes = []string{"VN", "HT", "Ht", "PFT", "PW", "PTT", "PRT", "RCC"}

// heartbeatFactor scales the server's announced heartbeat interval into the
// read timeout, so a keep-alive goes out before the server gives up.
const heartbeatFactor = 0.75

// PowerState is the three-valued track power status.
type PowerState string

// Track power states as published on the bus.
const (
	PowerOff     PowerState = "OFF"
	PowerOn      PowerState = "ON"
	PowerUnknown PowerState = "UNKNOWN"
)

// RosterEntry is one train from the server's roster. Address carries its
// type prefix ("L" long, "S" short), e.g. "L1234".
type RosterEntry struct {
	Name    string
	Address string
}

// ParseRoster decodes an RL line. The first field is the entry count and
// is not trusted; the entries themselves are counted. Malformed entries
// are returned in skipped and do not fail the line; err is set only when
// the line itself is not a roster.
func ParseRoster(line string) (entries []RosterEntry, skipped []string, err error) {
	body, ok := strings.CutPrefix(line, prefixRoster)
	if !ok {
		return nil, nil, fmt.Errorf("%w: not a roster line: %q", ErrMalformedLine, line)
	}

	parts := splitFields(body, sepEntry)
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("%w: empty roster line", ErrMalformedLine)
	}

	entries = make([]RosterEntry, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		fields := strings.Split(raw, sepField)
		if len(fields) != 3 || fields[1] == "" {
			skipped = append(skipped, raw)
			continue
		}
		entries = append(entries, RosterEntry{
			Name:    fields[0],
			Address: fields[2] + fields[1],
		})
	}
	return entries, skipped, nil
}

// splitThrottleLine splits "<prefix><addr><;><data>" into address and data.
func splitThrottleLine(line, prefix string) (addr, data string, err error) {
	body, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: expected prefix %s: %q", ErrMalformedLine, prefix, line)
	}
	addr, data, found := strings.Cut(body, sepAddress)
	if !found || addr == "" {
		return "", "", fmt.Errorf("%w: missing address: %q", ErrMalformedLine, line)
	}
	return addr, data, nil
}

// ParseAction decodes an MTA line into a train update. ok is false for
// codes that carry nothing the bridge tracks, such as speed step mode.
func ParseAction(line string) (update TrainUpdate, ok bool, err error) {
	addr, code, err := splitThrottleLine(line, prefixAction)
	if err != nil {
		return TrainUpdate{}, false, err
	}
	if code == "" {
		return TrainUpdate{}, false, fmt.Errorf("%w: empty action: %q", ErrMalformedLine, line)
	}

	update = TrainUpdate{Address: addr}
	switch code[0] {
	case 'F':
		if len(code) < 3 || (code[1] != '0' && code[1] != '1') {
			return TrainUpdate{}, false, fmt.Errorf("%w: function code %q", ErrMalformedLine, code)
		}
		idx, err := strconv.Atoi(code[2:])
		if err != nil || idx < 0 {
			return TrainUpdate{}, false, fmt.Errorf("%w: function index %q", ErrMalformedLine, code)
		}
		status := state.StatusOff
		if code[1] == '1' {
			status = state.StatusOn
		}
		update.Functions = map[string]state.Function{strconv.Itoa(idx): {State: status}}

	case 'V':
		speed, err := strconv.Atoi(code[1:])
		if err != nil {
			return TrainUpdate{}, false, fmt.Errorf("%w: speed %q", ErrMalformedLine, code)
		}
		// V-1 is an emergency stop.
		speed = max(speed, 0)
		update.Speed = &speed

	case 'R':
		if len(code) < 2 {
			return TrainUpdate{}, false, fmt.Errorf("%w: direction %q", ErrMalformedLine, code)
		}
		dir := state.DirectionForward
		if code[1] == '0' {
			dir = state.DirectionReverse
		}
		update.Direction = &dir

	case 's':
		return TrainUpdate{}, false, nil

	default:
		return TrainUpdate{}, false, fmt.Errorf("%w: unsupported action %q", ErrMalformedLine, code)
	}
	return update, true, nil
}

// ParseFunctionLabels decodes an MTL line. Labels are numbered from F0;
// unlabelled slots are skipped. Every labelled function starts off.
func ParseFunctionLabels(line string) (TrainUpdate, error) {
	addr, data, err := splitThrottleLine(line, prefixLabels)
	if err != nil {
		return TrainUpdate{}, err
	}

	labels := strings.Split(data, sepEntry)
	if len(labels) > 0 && labels[0] == "" {
		labels = labels[1:]
	}

	functions := make(map[string]state.Function)
	for idx, label := range labels {
		if label == "" {
			continue
		}
		functions[strconv.Itoa(idx)] = state.Function{Label: label, State: state.StatusOff}
	}
	return TrainUpdate{Address: addr, Functions: functions, ReplaceFunctions: true}, nil
}

// ParseAcquired decodes an MT+ confirmation into the acquired address.
func ParseAcquired(line string) (string, error) {
	body, ok := strings.CutPrefix(line, prefixAcquired)
	if !ok {
		return "", fmt.Errorf("%w: not an acquire line: %q", ErrMalformedLine, line)
	}
	addr, _, _ := strings.Cut(body, sepAddress)
	if addr == "" {
		return "", fmt.Errorf("%w: missing address: %q", ErrMalformedLine, line)
	}
	return addr, nil
}

// ParsePower decodes a PPA line.
func ParsePower(line string) (PowerState, error) {
	switch line {
	case "PPA0":
		return PowerOff, nil
	case "PPA1":
		return PowerOn, nil
	case "PPA2":
		return PowerUnknown, nil
	}
	return "", fmt.Errorf("%w: power %q", ErrMalformedLine, line)
}

// ParseHeartbeat decodes a "*<seconds>" announcement into the read
// timeout the client should use. ok is false for a bare "*".
func ParseHeartbeat(line string) (timeout time.Duration, ok bool, err error) {
	body, found := strings.CutPrefix(line, prefixHeartbeat)
	if !found {
		return 0, false, fmt.Errorf("%w: not a heartbeat line: %q", ErrMalformedLine, line)
	}
	if body == "" {
		return 0, false, nil
	}
	secs, err := strconv.Atoi(body)
	if err != nil || secs <= 0 {
		return 0, false, fmt.Errorf("%w: heartbeat %q", ErrMalformedLine, line)
	}
	return time.Duration(float64(secs) * heartbeatFactor * float64(time.Second)), true, nil
}

func isIgnored(line string) bool {
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// splitFields splits s on sep, dropping a trailing empty field.
func splitFields(s, sep string) []string {
	parts := strings.Split(s, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// Outbound line builders.

func handshakeLines(clientID, name string) []string {
	return []string{"HU" + clientID, "N" + name}
}

func acquireLine(addr string) string {
	return prefixAcquired + addr + sepAddress + addr
}

func speedLine(addr string, speed int) string {
	return prefixAction + addr + sepAddress + "V" + strconv.Itoa(speed)
}

func directionLine(addr string, forward bool) string {
	if forward {
		return prefixAction + addr + sepAddress + "R1"
	}
	return prefixAction + addr + sepAddress + "R0"
}

// functionLines presses and releases a function key. WiThrottle toggles
// momentary-off functions on each press.
func functionLines(addr, idx string) []string {
	return []string{
		prefixAction + addr + sepAddress + "F1" + idx,
		prefixAction + addr + sepAddress + "F0" + idx,
	}
}

func powerLine(on bool) string {
	if on {
		return "PPA1"
	}
	return "PPA0"
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Slugify lower-cases s and replaces whitespace runs with "-".
func Slugify(s string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
}
