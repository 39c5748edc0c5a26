// Package chunk turns OCR-extracted markdown into retrieval-sized chunks.
//
// The chunker is structure-aware: it tracks the markdown heading hierarchy
// and prefixes every chunk with a breadcrumb of the headings active at that
// point in the document, so a retrieved span always carries its structural
// context even when the heading text itself falls outside the span. Page
// markers emitted by the OCR stage (<!-- page:N -->) are consumed out of
// band and recorded as chunk provenance.
package chunk

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/korpusai/korpus/internal/token"
)

// Chunk is one retrieval unit produced from a document, in document order.
type Chunk struct {
	// Text is the chunk content, prefixed with the heading breadcrumb when
	// the section has one.
	Text string

	// Tokens is the token count of Text.
	Tokens int

	// Page is the page the chunk's section started on, nil when the source
	// carried no page markers.
	Page *int
}

// breadcrumbSep joins the heading stack into a chunk prefix,
// e.g. "## 3. Roles > ### 3.1 Lead".
const breadcrumbSep = " > "

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+\S`)
	pageMarkerRe = regexp.MustCompile(`^<!--\s*page:\s*(\d+)\s*-->\s*$`)
	listItemRe   = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s+`)
)

// Chunker splits markdown into token-budgeted chunks.
type Chunker struct {
	tok token.Tokenizer
}

// New creates a Chunker using the given tokenizer for all sizing decisions.
// Pass token.Default() to share the process-wide encoder.
func New(tok token.Tokenizer) *Chunker {
	return &Chunker{tok: tok}
}

// Chunk splits text into chunks of at most chunkSize tokens each, with up to
// overlap tokens shared between consecutive chunks split from the same
// section. Empty or whitespace-only input yields no chunks. The returned
// order is stable and defines the chunk_index values persisted later.
func (c *Chunker) Chunk(text string, chunkSize, overlap int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []Chunk
	for _, sec := range parseSections(text) {
		chunks = append(chunks, c.chunkSection(sec, chunkSize, overlap)...)
	}
	return chunks
}

// section is a heading-delimited region of the document.
type section struct {
	crumbs []string // raw heading lines, outermost first
	body   []string
	page   *int
}

// parseSections scans the markdown line by line, maintaining the heading
// stack and page cursor. Sections whose body is blank are dropped; their
// headings still contribute to the breadcrumb of the next section.
func parseSections(text string) []section {
	type stackEntry struct {
		level int
		line  string
	}

	var (
		sections []section
		stack    []stackEntry
		cur      section
		page     *int
		hasBody  bool
	)

	flush := func() {
		if hasBody {
			sections = append(sections, cur)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if m := pageMarkerRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			n := atoiDigits(m[1])
			page = &n
			// A marker ahead of any content belongs to the upcoming section.
			if !hasBody && cur.page == nil {
				cur.page = page
			}
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, stackEntry{level: level, line: strings.TrimSpace(line)})

			crumbs := make([]string, len(stack))
			for i, e := range stack {
				crumbs[i] = e.line
			}
			cur = section{crumbs: crumbs, page: page}
			hasBody = false
			continue
		}

		cur.body = append(cur.body, line)
		if strings.TrimSpace(line) != "" {
			hasBody = true
		}
	}
	flush()

	return sections
}

// chunkSection emits the chunks for one section, each carrying the section's
// breadcrumb prefix and start page.
func (c *Chunker) chunkSection(sec section, chunkSize, overlap int) []Chunk {
	body := strings.TrimSpace(strings.Join(sec.body, "\n"))
	if body == "" {
		return nil
	}

	prefix := c.fitPrefix(sec.crumbs, chunkSize)

	// Whole section fits: one chunk.
	if full := prefix + body; c.tok.Count(full) <= chunkSize {
		return []Chunk{{Text: full, Tokens: c.tok.Count(full), Page: sec.page}}
	}

	units := splitUnits(body)
	bodyBudget := chunkSize - c.tok.Count(prefix)
	if bodyBudget < 1 {
		bodyBudget = 1
	}

	var (
		chunks []Chunk
		buf    []unit
	)

	emit := func(text string) {
		chunks = append(chunks, Chunk{Text: text, Tokens: c.tok.Count(text), Page: sec.page})
	}

	for _, u := range units {
		candidate := joinUnits(append(buf[:len(buf):len(buf)], u))
		if c.tok.Count(prefix+candidate) <= chunkSize {
			buf = append(buf, u)
			continue
		}

		if len(buf) > 0 {
			emit(prefix + joinUnits(buf))
			buf = c.overlapTail(buf, overlap)
			// Retry with the overlap seed in place.
			candidate = joinUnits(append(buf[:len(buf):len(buf)], u))
			if c.tok.Count(prefix+candidate) <= chunkSize {
				buf = append(buf, u)
				continue
			}
			// Even with the seed the unit does not fit; drop the seed.
			buf = nil
			if c.tok.Count(prefix+u.text) <= chunkSize {
				buf = []unit{u}
				continue
			}
		}

		// A single unit over the whole budget: hard split at token level.
		for _, piece := range c.tok.Split(u.text, bodyBudget, overlap) {
			emit(prefix + piece)
		}
	}

	if len(buf) > 0 {
		emit(prefix + joinUnits(buf))
	}

	return chunks
}

// fitPrefix renders the breadcrumb prefix, shedding outer headings if the
// breadcrumb alone would eat more than half the chunk budget.
func (c *Chunker) fitPrefix(crumbs []string, chunkSize int) string {
	for len(crumbs) > 0 {
		prefix := strings.Join(crumbs, breadcrumbSep) + "\n\n"
		if c.tok.Count(prefix) <= chunkSize/2 {
			return prefix
		}
		crumbs = crumbs[1:]
	}
	return ""
}

// overlapTail returns the longest trailing run of units whose joined text
// fits within the overlap token budget.
func (c *Chunker) overlapTail(buf []unit, overlap int) []unit {
	if overlap <= 0 {
		return nil
	}
	for start := len(buf) - 1; start >= 0; start-- {
		if c.tok.Count(joinUnits(buf[start:])) > overlap {
			return cloneUnits(buf[start+1:])
		}
	}
	return cloneUnits(buf)
}

func cloneUnits(us []unit) []unit {
	if len(us) == 0 {
		return nil
	}
	out := make([]unit, len(us))
	copy(out, us)
	return out
}

// unit is an atomic piece of a section body: a paragraph, a list item, or a
// sentence-bounded fragment. sep is the separator written before the unit
// when it follows another unit in the same chunk.
type unit struct {
	text string
	sep  string
}

func joinUnits(units []unit) string {
	var sb strings.Builder
	for i, u := range units {
		if i > 0 {
			sb.WriteString(u.sep)
		}
		sb.WriteString(u.text)
	}
	return sb.String()
}

// splitUnits breaks a section body into atomic units: blank lines delimit
// blocks, list items are kept whole, and ordinary paragraphs are split at
// sentence boundaries.
func splitUnits(body string) []unit {
	var units []unit

	for _, block := range splitBlocks(body) {
		sep := "\n\n"
		if items := listItems(block); items != nil {
			for _, item := range items {
				units = append(units, unit{text: item, sep: sep})
				sep = "\n"
			}
			continue
		}
		for _, sentence := range splitSentences(block) {
			units = append(units, unit{text: sentence, sep: sep})
			sep = " "
		}
	}
	return units
}

// splitBlocks splits on blank lines, trimming each block.
func splitBlocks(body string) []string {
	var (
		blocks []string
		cur    []string
	)
	flush := func() {
		if b := strings.TrimRight(strings.Join(cur, "\n"), " \t\n"); b != "" {
			blocks = append(blocks, b)
		}
		cur = nil
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

// listItems splits a block into bullet/numbered items, or returns nil when
// the block is not a list. Continuation lines stay attached to their item;
// items are never split mid-item.
func listItems(block string) []string {
	lines := strings.Split(block, "\n")
	if !listItemRe.MatchString(lines[0]) {
		return nil
	}

	var (
		items []string
		cur   []string
	)
	for _, line := range lines {
		if listItemRe.MatchString(line) && len(cur) > 0 {
			items = append(items, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	items = append(items, strings.Join(cur, "\n"))
	return items
}

// splitSentences cuts ordinary text at sentence-ending punctuation followed
// by whitespace and an upper-case letter or digit.
func splitSentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' && r != ':' && r != ';' {
			continue
		}
		j := i + 1
		for j < len(runes) && strings.ContainsRune(`"')]`, runes[j]) {
			j++
		}
		k := j
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k > j && k < len(runes) && (unicode.IsUpper(runes[k]) || unicode.IsDigit(runes[k])) {
			out = append(out, strings.TrimSpace(string(runes[start:j])))
			start = k
			i = k - 1
		}
	}

	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

func atoiDigits(s string) int {
	n := 0
	for _, ch := range s {
		n = n*10 + int(ch-'0')
	}
	return n
}
