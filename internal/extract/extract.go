// Package extract pulls fenced code blocks out of model replies. It is an
// explicit scanner over fence delimiters rather than a regex so that the
// awkward cases (unterminated fences, fences inside fences) have defined,
// testable behavior.
package extract

import "strings"

// Block is one fenced code block found in a reply.
type Block struct {
	Lang   string // lowercased first word of the info string
	Source string // inner text, verbatim, including trailing newline
	Line   int    // 1-based line number of the opening fence
}

// Blocks returns every well-formed fenced block in reply whose language tag
// equals lang (case-insensitive), in order of appearance. A fence opened but
// never closed yields nothing: partial text is never treated as code. Inside
// an open block only a bare closing fence terminates it; a line that looks
// like a new opening fence is literal content.
func Blocks(reply, lang string) []Block {
	lang = strings.ToLower(lang)
	var out []Block

	var (
		open    bool
		tag     string
		start   int
		content []string
	)

	lines := strings.Split(reply, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if len(line)-len(trimmed) > 3 {
			// Indented four or more spaces; not a fence.
			if open {
				content = append(content, line)
			}
			continue
		}

		if !open {
			if info, ok := fenceInfo(trimmed); ok {
				open = true
				tag = strings.ToLower(firstWord(info))
				start = i + 1
				content = content[:0]
			}
			continue
		}

		if isClosingFence(trimmed) {
			open = false
			if tag == lang {
				out = append(out, Block{
					Lang:   tag,
					Source: joinSource(content),
					Line:   start,
				})
			}
			continue
		}
		content = append(content, line)
	}

	// Unterminated fence: discard.
	return out
}

// First returns the first matching block's source, or "" if none.
func First(reply, lang string) string {
	blocks := Blocks(reply, lang)
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0].Source
}

// fenceInfo reports whether the line opens a fence and returns its info string.
func fenceInfo(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	rest := strings.TrimLeft(trimmed, "`")
	// An info string may not itself contain backticks.
	if strings.Contains(rest, "`") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// isClosingFence reports whether the line closes an open fence: backticks
// only, no info string.
func isClosingFence(trimmed string) bool {
	trimmed = strings.TrimRight(trimmed, " \t")
	if !strings.HasPrefix(trimmed, "```") {
		return false
	}
	return strings.TrimLeft(trimmed, "`") == ""
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func joinSource(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
