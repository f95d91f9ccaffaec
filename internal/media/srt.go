// Package media inspects subtitle files produced by the backend before
// they are handed to the user.
package media

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// srtTimingRe matches SRT timing lines like "00:00:01,234 --> 00:00:03,456".
// A period is accepted in place of the comma because some generators emit
// VTT-style fractions.
var srtTimingRe = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})`)

// htmlTagRe matches inline formatting tags (<i>, <b>, <font ...>).
var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// ParseSRT parses SubRip content into cues. Blocks without a valid
// timing line are skipped rather than failing the whole file, and a
// missing sequence number gets the running position.
func ParseSRT(raw string) []Cue {
	raw = strings.TrimPrefix(raw, "\ufeff")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var cues []Cue
	for _, block := range strings.Split(raw, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 || lines[0] == "" {
			continue
		}

		index := len(cues) + 1
		if n, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			index = n
			lines = lines[1:]
		}
		if len(lines) == 0 {
			continue
		}

		m := srtTimingRe.FindStringSubmatch(strings.TrimSpace(lines[0]))
		if m == nil {
			continue
		}

		var text []string
		for _, l := range lines[1:] {
			l = strings.TrimSpace(htmlTagRe.ReplaceAllString(l, ""))
			if l != "" {
				text = append(text, l)
			}
		}

		cues = append(cues, Cue{
			Index: index,
			Start: srtTimestamp(m[1:5]),
			End:   srtTimestamp(m[5:9]),
			Text:  strings.Join(text, "\n"),
		})
	}
	return cues
}

// srtTimestamp converts regex groups [h, m, s, ms] to a duration. The
// regex guarantees digits, so Atoi cannot fail.
func srtTimestamp(parts []string) time.Duration {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond
}
