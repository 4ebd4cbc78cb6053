package patch

import (
	"strings"

	"drover/pkg/types"
)

// splitLines breaks content into lines plus a flag for whether the content
// ended with a newline. Empty content yields no lines.
func splitLines(content string) (lines []string, trailingNewline bool) {
	if content == "" {
		return nil, false
	}
	trailingNewline = strings.HasSuffix(content, "\n")
	if trailingNewline {
		content = strings.TrimSuffix(content, "\n")
	}
	if content == "" {
		// Content was exactly "\n": a single empty line.
		return []string{""}, trailingNewline
	}
	return strings.Split(content, "\n"), trailingNewline
}

func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	joined := strings.Join(lines, "\n")
	if trailingNewline {
		joined += "\n"
	}
	return joined
}

func conflict(path string, hunk int, reason string) *types.PatchConflictError {
	return &types.PatchConflictError{Path: path, Hunk: hunk, Reason: reason}
}

// applyToContent verifies every hunk of fp against the current content and
// returns the patched content. Verification is strict: context and removal
// lines must match at exactly the positions the hunk headers declare.
func applyToContent(current string, fp ParsedPatch) (string, error) {
	lines, hadTrailing := splitLines(current)

	var out []string
	cursor := 0 // index into lines of the next uncopied line
	outTrailing := hadTrailing
	if len(lines) == 0 {
		outTrailing = true
	}

	for i, hunk := range fp.Hunks {
		num := i + 1

		// Insertion-only hunks use the git convention: OldStart names the
		// line after which to insert, zero meaning the very top.
		target := hunk.OldStart - 1
		if hunk.OldLines == 0 {
			target = hunk.OldStart
		}
		if target < cursor {
			return "", conflict(fp.Path, num, "hunks overlap or are out of order")
		}
		if target > len(lines) {
			return "", conflict(fp.Path, num, "hunk starts beyond end of file")
		}

		out = append(out, lines[cursor:target]...)
		cursor = target

		for _, line := range hunk.Lines {
			switch line.Op {
			case OpContext:
				if cursor >= len(lines) {
					return "", conflict(fp.Path, num, "context extends beyond end of file")
				}
				if lines[cursor] != line.Text {
					return "", conflict(fp.Path, num, "context line does not match current content")
				}
				out = append(out, lines[cursor])
				cursor++
			case OpDelete:
				if cursor >= len(lines) {
					return "", conflict(fp.Path, num, "removal extends beyond end of file")
				}
				if lines[cursor] != line.Text {
					return "", conflict(fp.Path, num, "removed line does not match current content")
				}
				cursor++
			case OpAdd:
				out = append(out, line.Text)
			}
		}

		if hunk.NoNewlineOld && cursor < len(lines) {
			return "", conflict(fp.Path, num, "patch expects end of file where content continues")
		}
		if hunk.NoNewlineOld && hadTrailing {
			return "", conflict(fp.Path, num, "patch expects no trailing newline but file has one")
		}
		if hunk.NoNewlineNew {
			outTrailing = false
		}
	}

	out = append(out, lines[cursor:]...)
	if len(out) == 0 {
		return "", nil
	}
	return joinLines(out, outTrailing), nil
}

// applyCreate materializes a created file. Creation hunks may only add.
func applyCreate(fp ParsedPatch) (string, error) {
	var out []string
	trailing := true
	for i, hunk := range fp.Hunks {
		for _, line := range hunk.Lines {
			if line.Op != OpAdd {
				return "", conflict(fp.Path, i+1, "created file contains non-addition lines")
			}
			out = append(out, line.Text)
		}
		if hunk.NoNewlineNew {
			trailing = false
		}
	}
	return joinLines(out, trailing), nil
}

// verifyDelete checks that the deletion hunks account for the entire
// current content.
func verifyDelete(current string, fp ParsedPatch) error {
	lines, _ := splitLines(current)
	cursor := 0
	for i, hunk := range fp.Hunks {
		num := i + 1
		for _, line := range hunk.Lines {
			switch line.Op {
			case OpAdd:
				return conflict(fp.Path, num, "deleted file contains addition lines")
			case OpContext, OpDelete:
				if cursor >= len(lines) {
					return conflict(fp.Path, num, "removal extends beyond end of file")
				}
				if lines[cursor] != line.Text {
					return conflict(fp.Path, num, "removed line does not match current content")
				}
				cursor++
			}
		}
	}
	if cursor != len(lines) {
		return conflict(fp.Path, len(fp.Hunks), "deletion does not cover the whole file")
	}
	return nil
}
