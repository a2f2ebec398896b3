package policy

import (
	"strings"

	"github.com/ceyewan/gatekeeper/xerrors"
)

type segmentKind uint8

const (
	literal segmentKind = iota
	single              // {var} 或 *
	rest                // 末尾的 **
)

type segment struct {
	kind  segmentKind
	value string
}

// Pattern 路径模式：
//   - 字面量段精确匹配；
//   - {var} 与 * 匹配恰好一个非空段；
//   - 末尾的 ** 匹配零个或多个段。
//
// 首尾的斜杠不影响匹配。
type Pattern struct {
	raw      string
	segments []segment
}

// ParsePattern 解析路径模式
func ParsePattern(s string) (Pattern, error) {
	if !strings.HasPrefix(s, "/") {
		return Pattern{}, xerrors.Wrapf(ErrInvalidRule, "pattern %q must start with /", s)
	}

	parts := splitPath(s)
	segs := make([]segment, 0, len(parts))
	for i, part := range parts {
		switch {
		case part == "**":
			if i != len(parts)-1 {
				return Pattern{}, xerrors.Wrapf(ErrInvalidRule, "pattern %q: ** is only allowed as the last segment", s)
			}
			segs = append(segs, segment{kind: rest})
		case part == "*":
			segs = append(segs, segment{kind: single})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2:
			name := part[1 : len(part)-1]
			if strings.ContainsAny(name, "{}*") {
				return Pattern{}, xerrors.Wrapf(ErrInvalidRule, "pattern %q: bad variable %q", s, part)
			}
			segs = append(segs, segment{kind: single, value: name})
		case strings.ContainsAny(part, "{}*"):
			return Pattern{}, xerrors.Wrapf(ErrInvalidRule, "pattern %q: bad segment %q", s, part)
		default:
			segs = append(segs, segment{kind: literal, value: part})
		}
	}
	return Pattern{raw: s, segments: segs}, nil
}

func (p Pattern) String() string {
	return p.raw
}

// Match 路径是否匹配
func (p Pattern) Match(path string) bool {
	parts := splitPath(path)
	for i, seg := range p.segments {
		if seg.kind == rest {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if seg.kind == literal && seg.value != parts[i] {
			return false
		}
	}
	return len(parts) == len(p.segments)
}

// Vars 提取 {var} 段的值，不匹配时返回 nil
func (p Pattern) Vars(path string) map[string]string {
	if !p.Match(path) {
		return nil
	}
	parts := splitPath(path)
	vars := make(map[string]string)
	for i, seg := range p.segments {
		if seg.kind == single && seg.value != "" {
			vars[seg.value] = parts[i]
		}
	}
	return vars
}

// splitPath 按 / 切分并丢弃空段
func splitPath(path string) []string {
	fields := strings.Split(path, "/")
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
