package patch

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// defaultContextLines is the context emitted around changes when
// generating diffs.
const defaultContextLines = 3

// maxDiffSize guards diff generation against very large files.
const maxDiffSize = 10 * 1024 * 1024

const noNewlineMarker = "\\ No newline at end of file\n"

// Generator renders unified diffs from before/after content. Its output
// round-trips through Parse.
type Generator struct {
	contextLines int
	colorEnabled bool
}

// NewGenerator creates a generator. contextLines <= 0 selects the default.
func NewGenerator(contextLines int, colorEnabled bool) *Generator {
	if contextLines <= 0 {
		contextLines = defaultContextLines
	}
	return &Generator{contextLines: contextLines, colorEnabled: colorEnabled}
}

// GenerateUnified renders a unified diff for one file. Identical contents
// yield an empty string.
func (g *Generator) GenerateUnified(path, before, after string) (string, error) {
	if before == after {
		return "", nil
	}
	if isBinary(before) || isBinary(after) {
		return "", fmt.Errorf("binary content in %s cannot be rendered as a unified diff", path)
	}
	if len(before) > maxDiffSize || len(after) > maxDiffSize {
		return "", fmt.Errorf("content of %s exceeds %d bytes, diff skipped", path, maxDiffSize)
	}

	fp := ParsedPatch{
		Path:    path,
		Created: before == "",
		Deleted: after == "",
		Hunks:   g.buildHunks(before, after),
	}
	return RenderParsed(fp), nil
}

// RenderParsed writes a parsed patch back out as unified diff text.
func RenderParsed(fp ParsedPatch) string {
	oldHeader, newHeader := "a/"+fp.Path, "b/"+fp.Path
	if fp.Created {
		oldHeader = devNull
	}
	if fp.Deleted {
		newHeader = devNull
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", oldHeader)
	fmt.Fprintf(&sb, "+++ %s\n", newHeader)
	for _, h := range fp.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)

		// The old-side marker follows the last context or removal line,
		// the new-side marker the last context or addition line.
		lastOld, lastNew := -1, -1
		for i, line := range h.Lines {
			if line.Op != OpAdd {
				lastOld = i
			}
			if line.Op != OpDelete {
				lastNew = i
			}
		}

		for i, line := range h.Lines {
			sb.WriteByte(byte(line.Op))
			sb.WriteString(line.Text)
			sb.WriteByte('\n')
			marked := false
			if h.NoNewlineOld && i == lastOld {
				sb.WriteString(noNewlineMarker)
				marked = true
			}
			if h.NoNewlineNew && i == lastNew && !marked {
				sb.WriteString(noNewlineMarker)
			}
		}
	}
	return sb.String()
}

// RenderChange renders one FileChange as a unified diff.
func (g *Generator) RenderChange(change FileChange) (string, error) {
	return g.GenerateUnified(change.Path, change.Before, change.After)
}

type opLine struct {
	op   LineOp
	text string
}

// buildHunks computes a line diff via diffmatchpatch's line mode and
// groups it into context-bounded hunks.
func (g *Generator) buildHunks(before, after string) []Hunk {
	beforeNorm, noTrailBefore := normalizeTrailing(before)
	afterNorm, noTrailAfter := normalizeTrailing(after)

	dmp := diffmatchpatch.New()
	c1, c2, lineArray := dmp.DiffLinesToChars(beforeNorm, afterNorm)
	diffs := dmp.DiffMain(c1, c2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []opLine
	for _, d := range diffs {
		var op LineOp
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = OpContext
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		case diffmatchpatch.DiffInsert:
			op = OpAdd
		}
		for _, text := range chunkLines(d.Text) {
			ops = append(ops, opLine{op: op, text: text})
		}
	}

	hunks := groupHunks(ops, g.contextLines)
	if len(hunks) > 0 {
		last := &hunks[len(hunks)-1]
		if noTrailBefore && hunkReachesOldEOF(last, countLines(beforeNorm)) {
			last.NoNewlineOld = true
		}
		if noTrailAfter && hunkReachesNewEOF(last, countLines(afterNorm)) {
			last.NoNewlineNew = true
		}
	}
	return hunks
}

// normalizeTrailing guarantees diffable content ends with a newline and
// reports whether the original did not.
func normalizeTrailing(content string) (normalized string, noTrailing bool) {
	if content == "" || strings.HasSuffix(content, "\n") {
		return content, false
	}
	return content + "\n", true
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n")
}

func chunkLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func hunkReachesOldEOF(h *Hunk, totalOld int) bool {
	if h.OldLines == 0 {
		return h.OldStart >= totalOld
	}
	return h.OldStart+h.OldLines-1 >= totalOld
}

func hunkReachesNewEOF(h *Hunk, totalNew int) bool {
	if h.NewLines == 0 {
		return h.NewStart >= totalNew
	}
	return h.NewStart+h.NewLines-1 >= totalNew
}

// groupHunks assembles op lines into hunks, keeping at most context equal
// lines around each change and merging changes whose gap fits within twice
// the context.
func groupHunks(ops []opLine, context int) []Hunk {
	var hunks []Hunk
	n := len(ops)
	i := 0
	oldPos, newPos := 1, 1

	for i < n {
		if ops[i].op == OpContext {
			oldPos++
			newPos++
			i++
			continue
		}

		start := i - context
		if start < 0 {
			start = 0
		}
		lead := i - start
		hunkOld := oldPos - lead
		hunkNew := newPos - lead

		// Extend across nearby changes.
		end := i
		trailing := 0
		for j := i; j < n; j++ {
			if ops[j].op == OpContext {
				trailing++
				if trailing > 2*context {
					break
				}
			} else {
				trailing = 0
				end = j
			}
		}
		stop := end + context + 1
		if stop > n {
			stop = n
		}

		h := Hunk{OldStart: hunkOld, NewStart: hunkNew}
		for k := start; k < stop; k++ {
			switch ops[k].op {
			case OpContext:
				h.OldLines++
				h.NewLines++
			case OpDelete:
				h.OldLines++
			case OpAdd:
				h.NewLines++
			}
			h.Lines = append(h.Lines, HunkLine{Op: ops[k].op, Text: ops[k].text})
		}
		// Pure insertions and deletions follow the git convention of
		// naming the line before the change.
		if h.OldLines == 0 {
			h.OldStart = hunkOld - 1
		}
		if h.NewLines == 0 {
			h.NewStart = hunkNew - 1
		}
		hunks = append(hunks, h)

		for k := i; k < stop; k++ {
			switch ops[k].op {
			case OpContext:
				oldPos++
				newPos++
			case OpDelete:
				oldPos++
			case OpAdd:
				newPos++
			}
		}
		i = stop
	}
	return hunks
}

// Colorize renders a diff with terminal colors: hunk headers cyan,
// additions green, removals red.
func (g *Generator) Colorize(diffText string) string {
	if !g.colorEnabled {
		return diffText
	}
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(diffText, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			sb.WriteString(g.colorize(line, color.FgCyan))
		case strings.HasPrefix(line, "+"):
			sb.WriteString(g.colorize(line, color.FgGreen))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(g.colorize(line, color.FgRed))
		default:
			sb.WriteString(line)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (g *Generator) colorize(text string, attr color.Attribute) string {
	c := color.New(attr)
	return c.Sprint(text)
}

// isBinary checks for null bytes in the first 8000 bytes.
func isBinary(content string) bool {
	checkLen := len(content)
	if checkLen > 8000 {
		checkLen = 8000
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// FormatSummary returns a short human-readable description of the stats.
func (s PatchStats) FormatSummary() string {
	if s.Added == 0 && s.Removed == 0 {
		return "no changes"
	}
	parts := make([]string, 0, 3)
	if s.FilesChanged > 0 {
		noun := "files"
		if s.FilesChanged == 1 {
			noun = "file"
		}
		parts = append(parts, fmt.Sprintf("%d %s changed", s.FilesChanged, noun))
	}
	if s.Added > 0 {
		parts = append(parts, fmt.Sprintf("+%d", s.Added))
	}
	if s.Removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d", s.Removed))
	}
	return strings.Join(parts, ", ")
}
