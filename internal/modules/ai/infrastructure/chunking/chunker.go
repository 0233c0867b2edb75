package chunking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"

	"LeadPilot/internal/modules/ai/domain/knowledge"
)

const (
	StrategyBoundary  = "boundary"
	StrategyRecursive = "recursive"
)

type Config struct {
	ChunkSize        int
	Overlap          int
	AfterContext     int
	MinContentLength int
	Strategy         string
}

func DefaultConfig() Config {
	return Config{ChunkSize: 1000, Overlap: 200, AfterContext: 50, MinContentLength: 100, Strategy: StrategyBoundary}
}

// Chunker 把正文切成首尾相接的核心片段，再为每个片段补上前后重叠上下文。
// 所有长度都按 rune 计算，中文等多字节字符不会被截断。
type Chunker struct {
	cfg Config

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

func NewChunker(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 2
	}
	if cfg.AfterContext < 0 {
		cfg.AfterContext = 0
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyBoundary
	}
	return &Chunker{cfg: cfg}
}

func (c *Chunker) Config() Config { return c.cfg }

// coreBudget 核心片段的最大长度，加上前置重叠后不超过 ChunkSize
func (c *Chunker) coreBudget() int {
	return c.cfg.ChunkSize - c.cfg.Overlap
}

// Split 规范化后切分。正文短于 MinContentLength 时返回空切片，由调用方决定如何处理。
func (c *Chunker) Split(ctx context.Context, text string) ([]knowledge.Chunk, error) {
	text = Normalize(text)
	if text == "" || utf8.RuneCountInString(text) < c.cfg.MinContentLength {
		return []knowledge.Chunk{}, nil
	}

	runes := []rune(text)
	var cores [][2]int
	switch c.cfg.Strategy {
	case StrategyRecursive:
		var err error
		cores, err = c.recursiveCores(ctx, text)
		if err != nil {
			return nil, err
		}
		cores = c.capCores(runes, cores)
	case StrategyBoundary:
		cores = c.boundaryCores(runes)
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", c.cfg.Strategy)
	}
	return c.assemble(runes, cores), nil
}

func (c *Chunker) boundaryCores(r []rune) [][2]int {
	n := len(r)
	budget := c.coreBudget()
	cores := make([][2]int, 0, n/budget+1)
	for pos := 0; pos < n; {
		end := pos + budget
		if end >= n {
			end = n
		} else {
			end = findBreak(r, pos, end, budget/2)
		}
		cores = append(cores, [2]int{pos, end})
		pos = end
	}
	return cores
}

// capCores 找不到分隔符时递归切分器会原样返回超长片段，这里按边界规则再切一次
func (c *Chunker) capCores(r []rune, cores [][2]int) [][2]int {
	budget := c.coreBudget()
	out := make([][2]int, 0, len(cores))
	for _, cr := range cores {
		pos, end := cr[0], cr[1]
		for end-pos > budget {
			cut := findBreak(r, pos, pos+budget, budget/2)
			out = append(out, [2]int{pos, cut})
			pos = cut
		}
		out = append(out, [2]int{pos, end})
	}
	return out
}

type breakRule func(r []rune, start, i int) bool

// 优先级：段落/分页 > 句末 > 换行 > 空白
var breakRules = []breakRule{
	func(r []rune, start, i int) bool {
		return r[i-1] == '\f' || (r[i-1] == '\n' && i-2 >= start && r[i-2] == '\n')
	},
	func(r []rune, start, i int) bool {
		if isCJKTerminal(r[i-1]) {
			return true
		}
		return i-2 >= start && unicode.IsSpace(r[i-1]) && isTerminal(r[i-2])
	},
	func(r []rune, _, i int) bool { return r[i-1] == '\n' },
	func(r []rune, _, i int) bool { return unicode.IsSpace(r[i-1]) },
}

// findBreak 在 (start+minLen, limit] 内从后往前找切分点，找不到时硬切在 limit
func findBreak(r []rune, start, limit, minLen int) int {
	lo := start + max(1, minLen)
	for _, accept := range breakRules {
		for i := limit; i >= lo; i-- {
			if accept(r, start, i) {
				return i
			}
		}
	}
	return limit
}

func isTerminal(ch rune) bool {
	switch ch {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCJKTerminal(ch rune) bool {
	switch ch {
	case '。', '！', '？', '；':
		return true
	}
	return false
}

// recursiveCores 用 eino 递归切分器得到片段，再把片段映射回原文偏移。
// 片段之间被丢弃的分隔符并入前一个核心，保证核心首尾相接。
func (c *Chunker) recursiveCores(ctx context.Context, text string) ([][2]int, error) {
	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.coreBudget(),
			OverlapSize: 0,
			Separators:  []string{"\n\n", "\f", "\n", "。", "！", "？", ". ", "! ", "? ", "；", "，", " "},
			LenFunc: func(s string) int {
				return utf8.RuneCountInString(s)
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}

	starts := []int{0}
	cursor := 0
	for i, f := range frags {
		if f == nil || f.Content == "" {
			continue
		}
		idx := strings.Index(text[cursor:], f.Content)
		if idx < 0 {
			continue
		}
		at := cursor + idx
		if i > 0 && at > starts[len(starts)-1] {
			starts = append(starts, at)
		}
		cursor = at + len(f.Content)
	}

	// 字节偏移转 rune 偏移
	cores := make([][2]int, 0, len(starts))
	runeStart := 0
	for i, b := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		width := utf8.RuneCountInString(text[b:end])
		cores = append(cores, [2]int{runeStart, runeStart + width})
		runeStart += width
	}
	return cores, nil
}

func (c *Chunker) assemble(r []rune, cores [][2]int) []knowledge.Chunk {
	var pages []int
	if strings.ContainsRune(string(r), '\f') {
		pages = make([]int, len(r)+1)
		for i, ch := range r {
			pages[i+1] = pages[i]
			if ch == '\f' {
				pages[i+1]++
			}
		}
	}

	out := make([]knowledge.Chunk, 0, len(cores))
	for i, cr := range cores {
		start, end := cr[0], cr[1]
		ch := knowledge.Chunk{
			Index:   i,
			Content: string(r[start:end]),
			Start:   start,
			End:     end,
		}

		var b strings.Builder
		if i > 0 && c.cfg.Overlap > 0 {
			from := max(cores[i-1][0], start-c.cfg.Overlap)
			b.WriteString(string(r[from:start]))
			ch.HasBeforeContext = from < start
		}
		b.WriteString(ch.Content)
		if i < len(cores)-1 && c.cfg.AfterContext > 0 {
			to := min(cores[i+1][1], end+c.cfg.AfterContext)
			b.WriteString(string(r[end:to]))
			ch.HasAfterContext = to > end
		}
		ch.Text = b.String()

		if pages != nil {
			ch.PageNumber = pages[start] + 1
		}
		out = append(out, ch)
	}
	return out
}
