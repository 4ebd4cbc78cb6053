package patch

import (
	"fmt"
	"strconv"
	"strings"

	"drover/pkg/types"
)

// LineOp classifies one body line of a hunk.
type LineOp byte

const (
	OpContext LineOp = ' '
	OpAdd     LineOp = '+'
	OpDelete  LineOp = '-'
)

// HunkLine is one body line of a hunk.
type HunkLine struct {
	Op   LineOp `json:"op"`
	Text string `json:"text"`
}

// Hunk is one @@ section of a file patch.
type Hunk struct {
	OldStart int        `json:"old_start"`
	OldLines int        `json:"old_lines"`
	NewStart int        `json:"new_start"`
	NewLines int        `json:"new_lines"`
	Lines    []HunkLine `json:"lines"`
	// NoNewlineOld marks the old side's final line as lacking a trailing
	// newline; NoNewlineNew marks the new side's.
	NoNewlineOld bool `json:"no_newline_old,omitempty"`
	NoNewlineNew bool `json:"no_newline_new,omitempty"`
}

// ParsedPatch is the parsed form of one file section of a unified diff.
type ParsedPatch struct {
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
	Created bool   `json:"created,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Hunks   []Hunk `json:"hunks"`
}

// PatchStats summarizes a patch set. Counts cover body lines only; headers
// are excluded.
type PatchStats struct {
	FilesChanged int `json:"files_changed"`
	Added        int `json:"added"`
	Removed      int `json:"removed"`
}

// devNull is the sentinel path marking a file creation or deletion.
const devNull = "/dev/null"

// Parse decodes a unified diff into per-file patches. Parsing is strict:
// malformed headers, bodies that disagree with their hunk counts, and
// truncated input all fail with a PatchParseError naming the line.
func Parse(diffText string) ([]ParsedPatch, error) {
	p := &parser{lines: splitDiffLines(diffText)}
	return p.parse()
}

// ComputeStats counts files and added/removed body lines.
func ComputeStats(patches []ParsedPatch) PatchStats {
	stats := PatchStats{FilesChanged: len(patches)}
	for _, fp := range patches {
		for _, h := range fp.Hunks {
			for _, line := range h.Lines {
				switch line.Op {
				case OpAdd:
					stats.Added++
				case OpDelete:
					stats.Removed++
				}
			}
		}
	}
	return stats
}

type parser struct {
	lines []string
	pos   int // zero-based index into lines
}

func splitDiffLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func (p *parser) errf(format string, args ...any) error {
	return &types.PatchParseError{Line: p.pos + 1, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.lines)
}

func (p *parser) peek() string {
	return p.lines[p.pos]
}

func (p *parser) parse() ([]ParsedPatch, error) {
	var patches []ParsedPatch
	for !p.eof() {
		line := p.peek()
		switch {
		case strings.HasPrefix(line, "--- "):
			fp, err := p.parseFile()
			if err != nil {
				return nil, err
			}
			patches = append(patches, *fp)
		case strings.HasPrefix(line, "Binary files "):
			return nil, p.errf("binary patches are not supported")
		case isGitMetaLine(line):
			p.pos++
		case strings.TrimSpace(line) == "":
			p.pos++
		default:
			return nil, p.errf("unexpected content outside a file section: %q", truncateForError(line))
		}
	}
	if len(patches) == 0 {
		return nil, &types.PatchParseError{Reason: "no file headers found"}
	}
	return patches, nil
}

// isGitMetaLine reports whether the line is a git extended header that may
// precede the ---/+++ pair.
func isGitMetaLine(line string) bool {
	for _, prefix := range []string{
		"diff --git ",
		"index ",
		"new file mode",
		"deleted file mode",
		"old mode",
		"new mode",
		"similarity index",
		"dissimilarity index",
		"rename from",
		"rename to",
		"copy from",
		"copy to",
	} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func (p *parser) parseFile() (*ParsedPatch, error) {
	oldPath, err := p.parseFileHeader("--- ")
	if err != nil {
		return nil, err
	}
	if p.eof() || !strings.HasPrefix(p.peek(), "+++ ") {
		return nil, p.errf("expected +++ header after ---")
	}
	newPath, err := p.parseFileHeader("+++ ")
	if err != nil {
		return nil, err
	}

	fp := &ParsedPatch{OldPath: oldPath}
	switch {
	case oldPath == devNull && newPath == devNull:
		return nil, p.errf("both sides of the header are /dev/null")
	case oldPath == devNull:
		fp.Created = true
		fp.Path = newPath
		fp.OldPath = ""
	case newPath == devNull:
		fp.Deleted = true
		fp.Path = oldPath
	default:
		fp.Path = newPath
	}

	if p.eof() || !strings.HasPrefix(p.peek(), "@@") {
		return nil, p.errf("expected @@ hunk header for %s", fp.Path)
	}
	for !p.eof() && strings.HasPrefix(p.peek(), "@@") {
		hunk, err := p.parseHunk()
		if err != nil {
			return nil, err
		}
		fp.Hunks = append(fp.Hunks, *hunk)
	}
	return fp, nil
}

// parseFileHeader consumes a ---/+++ line and returns the cleaned path.
func (p *parser) parseFileHeader(prefix string) (string, error) {
	raw := strings.TrimPrefix(p.peek(), prefix)
	// Strip a trailing timestamp separated by a tab.
	if idx := strings.IndexByte(raw, '\t'); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", p.errf("empty path in %s header", strings.TrimSpace(prefix))
	}
	if raw != devNull {
		raw = strings.TrimPrefix(raw, "a/")
		raw = strings.TrimPrefix(raw, "b/")
		if raw == "" {
			return "", p.errf("empty path in %s header", strings.TrimSpace(prefix))
		}
	}
	p.pos++
	return raw, nil
}

func (p *parser) parseHunk() (*Hunk, error) {
	header := p.peek()
	hunk, err := parseHunkHeader(header)
	if err != nil {
		return nil, p.errf("%v", err)
	}
	p.pos++

	oldSeen, newSeen := 0, 0
	var lastOp LineOp
	sawLine := false
	for !p.eof() && (oldSeen < hunk.OldLines || newSeen < hunk.NewLines) {
		line := p.peek()
		if strings.HasPrefix(line, `\`) {
			// "\ No newline at end of file" binds to the preceding line.
			if !sawLine {
				return nil, p.errf("no-newline marker with no preceding line")
			}
			applyNoNewlineMarker(hunk, lastOp)
			p.pos++
			continue
		}
		if line == "" {
			// Some tools emit bare empty lines for empty context lines.
			line = " "
		}
		op := LineOp(line[0])
		text := line[1:]
		switch op {
		case OpContext:
			oldSeen++
			newSeen++
		case OpDelete:
			oldSeen++
		case OpAdd:
			newSeen++
		default:
			return nil, p.errf("invalid hunk line prefix %q", string(op))
		}
		if oldSeen > hunk.OldLines || newSeen > hunk.NewLines {
			return nil, p.errf("hunk body exceeds header counts (-%d +%d)", hunk.OldLines, hunk.NewLines)
		}
		hunk.Lines = append(hunk.Lines, HunkLine{Op: op, Text: text})
		lastOp = op
		sawLine = true
		p.pos++
	}

	if oldSeen < hunk.OldLines || newSeen < hunk.NewLines {
		return nil, p.errf("hunk body ended early: header declares -%d +%d, body has -%d +%d",
			hunk.OldLines, hunk.NewLines, oldSeen, newSeen)
	}

	// A trailing marker after the final counted line still belongs here.
	for !p.eof() && strings.HasPrefix(p.peek(), `\`) {
		applyNoNewlineMarker(hunk, lastOp)
		p.pos++
	}
	return hunk, nil
}

func applyNoNewlineMarker(hunk *Hunk, lastOp LineOp) {
	switch lastOp {
	case OpAdd:
		hunk.NoNewlineNew = true
	case OpDelete:
		hunk.NoNewlineOld = true
	case OpContext:
		hunk.NoNewlineOld = true
		hunk.NoNewlineNew = true
	}
}

// parseHunkHeader decodes "@@ -oldStart[,oldLines] +newStart[,newLines] @@".
func parseHunkHeader(header string) (*Hunk, error) {
	rest := strings.TrimPrefix(header, "@@")
	end := strings.Index(rest, "@@")
	if end < 0 {
		return nil, fmt.Errorf("malformed hunk header %q", truncateForError(header))
	}
	fields := strings.Fields(strings.TrimSpace(rest[:end]))
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return nil, fmt.Errorf("malformed hunk header %q", truncateForError(header))
	}

	oldStart, oldLines, err := parseRange(strings.TrimPrefix(fields[0], "-"))
	if err != nil {
		return nil, fmt.Errorf("malformed old range in %q", truncateForError(header))
	}
	newStart, newLines, err := parseRange(strings.TrimPrefix(fields[1], "+"))
	if err != nil {
		return nil, fmt.Errorf("malformed new range in %q", truncateForError(header))
	}
	return &Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines}, nil
}

// parseRange decodes "start[,count]"; a missing count means 1.
func parseRange(s string) (start, count int, err error) {
	count = 1
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		count, err = strconv.Atoi(s[idx+1:])
		if err != nil || count < 0 {
			return 0, 0, fmt.Errorf("bad count")
		}
		s = s[:idx]
	}
	start, err = strconv.Atoi(s)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("bad start")
	}
	return start, count, nil
}

func truncateForError(line string) string {
	if len(line) > 60 {
		return line[:60] + "..."
	}
	return line
}
