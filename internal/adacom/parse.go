package adacom

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	statusRe = regexp.MustCompile(`Channel\s+([0-9]+):\s+(.+)`)
	setRe    = regexp.MustCompile(`Channel\s+([0-9]+).+set to\s+(.+)`)
)

// ignoredLine reports whether a trimmed line is noise in every state:
// blank lines, "--" banners and "#" comments.
func ignoredLine(line string) bool {
	return line == "" || strings.HasPrefix(line, "--") || strings.HasPrefix(line, "#")
}

// splitInfo splits an info line such as "Model: AD-USB4AR36G95" on the
// first colon-space.
func splitInfo(line string) (key, value string, ok bool) {
	return strings.Cut(line, ": ")
}

// splitDefaults splits the Default Attenuations value on single spaces.
// Every token counts as a channel.
func splitDefaults(value string) []string {
	return strings.Split(value, " ")
}

// channelValue holds one (channel, value) pair reported by the device.
// Channel is 1-based as on the wire.
type channelValue struct {
	Channel int
	Value   float64
}

// matchStatus matches "Channel <N>: <value>". matched is false for lines
// that do not fit the pattern; err is set when they fit but do not parse.
func matchStatus(line string) (cv channelValue, matched bool, err error) {
	return matchChannel(statusRe, line)
}

// matchSet matches "Channel <N> ... set to <value>".
func matchSet(line string) (cv channelValue, matched bool, err error) {
	return matchChannel(setRe, line)
}

func matchChannel(re *regexp.Regexp, line string) (channelValue, bool, error) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return channelValue{}, false, nil
	}
	ch, err := strconv.Atoi(m[1])
	if err != nil {
		return channelValue{}, true, fmt.Errorf("channel %q: %w", m[1], err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
	if err != nil {
		return channelValue{}, true, fmt.Errorf("value %q: %w", m[2], err)
	}
	return channelValue{Channel: ch, Value: v}, true, nil
}

// isRejection reports whether the device refused the last command.
func isRejection(line string) bool {
	return strings.HasPrefix(line, "Invalid command")
}

// setCommand formats a set command. channel is 0-based; the wire is 1-based.
func setCommand(channel int, value float64) string {
	return fmt.Sprintf("set %d %.2f", channel+1, value)
}
