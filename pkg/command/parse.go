package command

import (
	"sort"
	"strings"
)

// Invocation is the parse result of one triggering message. IsCommand is
// false for a bare prompt (trigger word with no "#" command), whose
// interpretation is left to plugins.
type Invocation struct {
	Trigger   string
	Name      string
	Params    []string
	Prompt    string
	IsCommand bool
}

// ParseInvocation applies the command grammar to message text. The text must
// begin, case-insensitively, with one of the trigger words; when several are
// prefixes of one another the longest wins, ties broken by configured order.
// quoteText, when non-empty, is appended to the prompt regardless of command
// vs. bare-prompt interpretation.
func ParseInvocation(text string, triggers []string, quoteText string) (Invocation, bool) {
	clean := strings.TrimSpace(text)
	lower := strings.ToLower(clean)

	ordered := make([]string, len(triggers))
	copy(ordered, triggers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i]) > len(ordered[j])
	})

	for _, tw := range ordered {
		if tw == "" || !strings.HasPrefix(lower, strings.ToLower(tw)) {
			continue
		}

		inv := Invocation{Trigger: tw}
		content := strings.TrimSpace(clean[len(tw):])

		if strings.HasPrefix(content, "#") {
			inv.IsCommand = true
			cmdContent := content[1:]

			cmdPart := cmdContent
			// Everything after the first space is the prompt, verbatim —
			// never re-split on commas.
			if idx := strings.Index(cmdContent, " "); idx >= 0 {
				cmdPart = cmdContent[:idx]
				inv.Prompt = strings.TrimSpace(cmdContent[idx+1:])
			}

			parts := strings.Split(cmdPart, ",")
			inv.Name = strings.ToLower(strings.TrimSpace(parts[0]))
			for _, p := range parts[1:] {
				inv.Params = append(inv.Params, strings.TrimSpace(p))
			}
		} else {
			inv.Prompt = content
		}

		if quoteText != "" {
			if inv.Prompt != "" {
				inv.Prompt = inv.Prompt + "\n\n" + quoteText
			} else {
				inv.Prompt = quoteText
			}
		}
		return inv, true
	}

	return Invocation{}, false
}

// MatchesCommandPrefix reports whether text looks like a command invocation
// (trigger word immediately followed by "#"), used as the cheap dispatch
// filter before full parsing.
func MatchesCommandPrefix(text string, triggers []string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, tw := range triggers {
		if tw != "" && strings.HasPrefix(upper, strings.ToUpper(tw)+"#") {
			return true
		}
	}
	return false
}
