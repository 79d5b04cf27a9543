package segment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Document: 回读的分段文件（用于校验与测试）。
type Document struct {
	Title    string
	PlayResX int
	PlayResY int
	Style    StyleLine
	Events   []Event
}

// StyleLine: R2L 样式行中关心的字段。
type StyleLine struct {
	Name     string
	Font     string
	FontSize int
	Primary  string // 例如 &H66ffffff
	Outline  string
}

// Event: 一条 Dialogue。
type Event struct {
	Start  float64
	End    float64
	Style  string
	X0, Y0 int
	X1, Y1 int
	Alpha  string // 无颜色覆盖时为空
	Color  string // 无颜色覆盖时为空
	Text   string
}

var (
	tsRe   = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})\.(\d{2})$`)
	textRe = regexp.MustCompile(`^\{\\move\((-?\d+),(-?\d+),(-?\d+),(-?\d+)\)\}(?:\{\\1c&H([0-9a-f]{2})([0-9a-f]{6})&\})?(.*)$`)
)

// ParseTimestamp 解析 H:MM:SS.cc 为秒数。
func ParseTimestamp(s string) (float64, error) {
	m := tsRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("ass format error: invalid timestamp: %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	cs, _ := strconv.Atoi(m[4])
	if mi >= 60 || sec >= 60 {
		return 0, fmt.Errorf("ass format error: timestamp out of range: %q", s)
	}
	return float64(h*3600+mi*60+sec) + float64(cs)/100, nil
}

// Parse 读取一个分段文件。仅识别本程序写出的结构：
// [Script Info] 的 Title/PlayResX/PlayResY，[V4+ Styles] 的首个 Style，[Events] 的 Dialogue。
func Parse(ctx context.Context, r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	doc := &Document{}
	section := ""
	lineNo := 0
	for {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		line, eof, err := readTrimmedLine(br)
		if err != nil {
			return nil, err
		}
		if eof {
			break
		}
		lineNo++
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("ass format error: line %d: %q", lineNo, line)
		}
		val = strings.TrimPrefix(val, " ")
		switch section {
		case "[Script Info]":
			switch key {
			case "Title":
				doc.Title = val
			case "PlayResX":
				doc.PlayResX, err = strconv.Atoi(val)
			case "PlayResY":
				doc.PlayResY, err = strconv.Atoi(val)
			}
		case "[V4+ Styles]":
			if key == "Style" && doc.Style.Name == "" {
				doc.Style, err = parseStyle(val)
			}
		case "[Events]":
			if key == "Dialogue" {
				var ev Event
				ev, err = parseDialogue(val)
				if err == nil {
					doc.Events = append(doc.Events, ev)
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("ass format error: line %d: %w", lineNo, err)
		}
	}
	if section == "" {
		return nil, errors.New("ass format error: no sections")
	}
	return doc, nil
}

func parseStyle(val string) (StyleLine, error) {
	f := strings.Split(val, ",")
	if len(f) != 23 {
		return StyleLine{}, fmt.Errorf("style has %d fields, want 23", len(f))
	}
	size, err := strconv.Atoi(f[2])
	if err != nil {
		return StyleLine{}, fmt.Errorf("style font size: %w", err)
	}
	return StyleLine{Name: f[0], Font: f[1], FontSize: size, Primary: f[3], Outline: f[5]}, nil
}

func parseDialogue(val string) (Event, error) {
	// Text 为第 10 个字段，可含逗号
	f := strings.SplitN(val, ",", 10)
	if len(f) != 10 {
		return Event{}, fmt.Errorf("dialogue has %d fields, want 10", len(f))
	}
	start, err := ParseTimestamp(f[1])
	if err != nil {
		return Event{}, err
	}
	end, err := ParseTimestamp(f[2])
	if err != nil {
		return Event{}, err
	}
	m := textRe.FindStringSubmatch(f[9])
	if m == nil {
		return Event{}, fmt.Errorf("dialogue text without move override: %q", f[9])
	}
	ev := Event{Start: start, End: end, Style: f[3], Alpha: m[5], Color: m[6], Text: m[7]}
	ev.X0, _ = strconv.Atoi(m[1])
	ev.Y0, _ = strconv.Atoi(m[2])
	ev.X1, _ = strconv.Atoi(m[3])
	ev.Y1, _ = strconv.Atoi(m[4])
	return ev, nil
}

// readTrimmedLine 读取一行并去除 \n / \r\n；返回该行与是否 EOF。
func readTrimmedLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			eof = true
		} else {
			return "", false, err
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof && s == "", nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
