package coerce

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var strptime = map[byte]string{
	'a': "Mon",
	'A': "Monday",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'd': "2",
	'e': "_2",
	'm': "1",
	'y': "06",
	'Y': "2006",
	'H': "15",
	'I': "3",
	'M': "04",
	'S': "05",
	'p': "PM",
	'f': "000000",
	'j': "002",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// goLayout turns a strptime-style format into a time layout. Formats without
// a '%' are taken to be Go layouts already.
func goLayout(format string) (string, error) {
	if !strings.Contains(format, "%") {
		return format, nil
	}
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("format %q ends with a bare %%", format)
		}
		l, ok := strptime[format[i]]
		if !ok {
			return "", fmt.Errorf("format %q: unsupported directive %%%c", format, format[i])
		}
		b.WriteString(l)
	}
	return b.String(), nil
}

// fixedZone parses "UTC", "Z" or a "+hh:mm" / "-hhmm" offset.
func fixedZone(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	switch strings.ToUpper(tz) {
	case "", "UTC", "Z", "GMT":
		return time.UTC, nil
	}
	sign := 1
	switch tz[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("timezone %q: want UTC or a +hh:mm offset", tz)
	}
	digits := strings.ReplaceAll(tz[1:], ":", "")
	if len(digits) != 4 && len(digits) != 2 {
		return nil, fmt.Errorf("timezone %q: want UTC or a +hh:mm offset", tz)
	}
	h, err := strconv.Atoi(digits[:2])
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %v", tz, err)
	}
	m := 0
	if len(digits) == 4 {
		if m, err = strconv.Atoi(digits[2:]); err != nil {
			return nil, fmt.Errorf("timezone %q: %v", tz, err)
		}
	}
	if h > 14 || m > 59 {
		return nil, fmt.Errorf("timezone %q out of range", tz)
	}
	off := sign * (h*3600 + m*60)
	if off == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(tz, off), nil
}
