package hierarchy

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// linePattern matches a significant outline line: number, optional trailing
// dot, whitespace, title. Whitespace includes Unicode space separators such
// as U+00A0, which PDF extraction often emits; digits stay ASCII.
var linePattern = regexp.MustCompile(`^[\s\p{Zs}]*(\d+(?:\.\d+)*)\.?[\s\p{Zs}]+(.+)$`)

// DefaultLevelCap bounds tree depth against noisy extraction.
const DefaultLevelCap = 3

// maxLineBytes bounds a single outline line.
const maxLineBytes = 1 << 20

// Parser converts outline text to nodes.
// A Parser is not safe for concurrent use; Stats reflect the last Parse call.
type Parser struct {
	levelCap  int
	separator string
	joiner    string
	stats     Stats
}

// Stats counts what happened to the lines of the last parse.
type Stats struct {
	Lines      int // lines read
	Nodes      int // nodes emitted
	Dropped    int // non-matching lines
	Capped     int // matching lines deeper than the level cap
	Duplicates int // matching lines whose code was already emitted
}

// Option configures a Parser.
type Option func(*Parser)

// WithLevelCap discards nodes whose level exceeds n. A negative n disables
// the cap.
func WithLevelCap(n int) Option {
	return func(p *Parser) { p.levelCap = n }
}

// WithSeparator sets the string that replaces dots inside codes.
func WithSeparator(s string) Option {
	return func(p *Parser) { p.separator = s }
}

// WithPrefixJoiner sets the string placed between prefix and number.
func WithPrefixJoiner(s string) Option {
	return func(p *Parser) { p.joiner = s }
}

// NewParser creates a parser with the given options.
//
// Defaults: level cap 3, separator "_", prefix joiner "-".
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		levelCap:  DefaultLevelCap,
		separator: "_",
		joiner:    "-",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads outline text from r and returns its nodes in input order.
// Only reader failures produce an error; malformed lines are dropped.
func (p *Parser) Parse(r io.Reader, prefix string) ([]Node, error) {
	p.stats = Stats{}

	var nodes []Node
	lastAtLevel := make(map[int]string)
	emitted := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if p.stats.Lines == 0 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		p.stats.Lines++

		m := linePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			p.stats.Dropped++
			continue
		}
		number, title := m[1], strings.TrimSpace(m[2])
		level := strings.Count(number, ".")
		if p.levelCap >= 0 && level > p.levelCap {
			p.stats.Capped++
			continue
		}

		code := p.code(prefix, number)
		parent := ""
		if level > 0 {
			parent = lastAtLevel[level-1]
		}

		lastAtLevel[level] = code
		for l := range lastAtLevel {
			if l > level {
				delete(lastAtLevel, l)
			}
		}

		if emitted[code] {
			p.stats.Duplicates++
			continue
		}
		emitted[code] = true

		nodes = append(nodes, Node{
			Code:       code,
			Title:      title,
			Level:      level,
			ParentCode: parent,
		})
	}
	if err := scanner.Err(); err != nil {
		return nodes, fmt.Errorf("read outline: %w", err)
	}

	p.stats.Nodes = len(nodes)
	return nodes, nil
}

// Stats returns the counters of the last Parse call.
func (p *Parser) Stats() Stats {
	return p.stats
}

func (p *Parser) code(prefix, number string) string {
	converted := strings.ReplaceAll(number, ".", p.separator)
	if prefix == "" {
		return converted
	}
	return prefix + p.joiner + converted
}

// FormatCode builds a node code with the default separator and joiner.
func FormatCode(prefix, number string) string {
	return NewParser().code(prefix, number)
}

// Parse parses text with the default separator and joiner and the given level
// cap.
func Parse(text, prefix string, levelCap int) []Node {
	// Reading from a strings.Reader cannot fail short of a line longer than
	// maxLineBytes; such input yields the nodes parsed before it.
	nodes, _ := NewParser(WithLevelCap(levelCap)).Parse(strings.NewReader(text), prefix)
	return nodes
}
