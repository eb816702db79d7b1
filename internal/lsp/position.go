package lsp

import "fmt"

// OffsetMapper maps an LSP line/character pair to an absolute document offset.
type OffsetMapper interface {
	Offset(line, character int) (int, error)
}

// OffsetMapperFunc adapts a function to OffsetMapper.
type OffsetMapperFunc func(line, character int) (int, error)

// Offset calls f.
func (f OffsetMapperFunc) Offset(line, character int) (int, error) {
	return f(line, character)
}

// PositionConverter translates between byte offsets and LSP positions.
// LSP uses 0-based line/column positions with UTF-16 code units for columns.
type PositionConverter struct {
	content string
	lines   []lineInfo
}

// lineInfo stores information about a line for efficient position conversion.
type lineInfo struct {
	byteOffset int // Byte offset of line start
	byteLen    int // Length in bytes, excluding the newline
	utf16Len   int // Length in UTF-16 code units
}

// NewPositionConverter creates a new converter for the given content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{
		content: content,
	}
	pc.buildLineIndex()
	return pc
}

// buildLineIndex creates an index of all lines for fast position lookup.
func (pc *PositionConverter) buildLineIndex() {
	pc.lines = nil

	lineStart := 0
	for i := 0; i < len(pc.content); i++ {
		if pc.content[i] != '\n' {
			continue
		}
		pc.lines = append(pc.lines, lineInfo{
			byteOffset: lineStart,
			byteLen:    i - lineStart,
			utf16Len:   utf16LenForString(pc.content[lineStart:i]),
		})
		lineStart = i + 1
	}

	// Last line may not end with a newline.
	pc.lines = append(pc.lines, lineInfo{
		byteOffset: lineStart,
		byteLen:    len(pc.content) - lineStart,
		utf16Len:   utf16LenForString(pc.content[lineStart:]),
	})
}

// Content returns the text the converter indexes.
func (pc *PositionConverter) Content() string {
	return pc.content
}

// Offset returns the byte offset of a line/character pair. Lines past the
// end and characters past the end of their line fail with ErrInvalidLocation.
func (pc *PositionConverter) Offset(line, character int) (int, error) {
	if line < 0 || line >= len(pc.lines) {
		return 0, fmt.Errorf("%w: line %d of %d", ErrInvalidLocation, line, len(pc.lines))
	}
	info := pc.lines[line]
	if character < 0 || character > info.utf16Len {
		return 0, fmt.Errorf("%w: character %d on line %d (length %d)", ErrInvalidLocation, character, line, info.utf16Len)
	}
	lineContent := pc.content[info.byteOffset : info.byteOffset+info.byteLen]
	return info.byteOffset + utf16ToByteOffset(lineContent, character), nil
}

// PositionOffset is Offset for a Position.
func (pc *PositionConverter) PositionOffset(pos Position) (int, error) {
	return pc.Offset(pos.Line, pos.Character)
}

// ByteOffsetToPosition converts a byte offset to an LSP Position, clamping
// offsets outside the document.
func (pc *PositionConverter) ByteOffsetToPosition(byteOffset int) Position {
	if byteOffset < 0 {
		return Position{}
	}

	lineNum := len(pc.lines) - 1
	for i, line := range pc.lines {
		if byteOffset <= line.byteOffset+line.byteLen {
			lineNum = i
			break
		}
	}

	line := pc.lines[lineNum]
	charOffset := min(max(byteOffset-line.byteOffset, 0), line.byteLen)
	lineContent := pc.content[line.byteOffset : line.byteOffset+line.byteLen]

	return Position{
		Line:      lineNum,
		Character: byteToUTF16Offset(lineContent, charOffset),
	}
}

// Text returns the content between two positions.
func (pc *PositionConverter) Text(start, end Position) (string, error) {
	s, err := pc.PositionOffset(start)
	if err != nil {
		return "", err
	}
	e, err := pc.PositionOffset(end)
	if err != nil {
		return "", err
	}
	if e < s {
		return "", fmt.Errorf("%w: end %d:%d before start %d:%d", ErrInvalidLocation, end.Line, end.Character, start.Line, start.Character)
	}
	return pc.content[s:e], nil
}

// LineCount returns the number of lines.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// LineLength returns the length of a line in UTF-16 code units, or 0 for a
// line outside the document.
func (pc *PositionConverter) LineLength(lineNum int) int {
	if lineNum < 0 || lineNum >= len(pc.lines) {
		return 0
	}
	return pc.lines[lineNum].utf16Len
}

// LineContent returns the content of a line (excluding newline).
func (pc *PositionConverter) LineContent(lineNum int) string {
	if lineNum < 0 || lineNum >= len(pc.lines) {
		return ""
	}
	line := pc.lines[lineNum]
	return pc.content[line.byteOffset : line.byteOffset+line.byteLen]
}

// --- UTF-16 conversion helpers ---

// utf16LenForString returns the length in UTF-16 code units.
func utf16LenForString(s string) int {
	count := 0
	for _, r := range s {
		if r >= 0x10000 {
			count += 2 // Surrogate pair
		} else {
			count++
		}
	}
	return count
}

// byteToUTF16Offset converts a byte offset within a string to UTF-16 offset.
func byteToUTF16Offset(s string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff >= len(s) {
		return utf16LenForString(s)
	}

	utf16Off := 0
	for i, r := range s {
		if i >= byteOff {
			break
		}
		if r >= 0x10000 {
			utf16Off += 2
		} else {
			utf16Off++
		}
	}
	return utf16Off
}

// utf16ToByteOffset converts a UTF-16 offset to byte offset within a string.
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}

	utf16Count := 0
	for i, r := range s {
		if utf16Count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			utf16Count += 2
		} else {
			utf16Count++
		}
	}
	return len(s)
}

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	if a.Line < b.Line {
		return -1
	}
	if a.Line > b.Line {
		return 1
	}
	if a.Character < b.Character {
		return -1
	}
	if a.Character > b.Character {
		return 1
	}
	return 0
}
