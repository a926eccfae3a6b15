package cache

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/tier"
)

// DefaultPromptCacheSize 提示词缓存默认容量
const DefaultPromptCacheSize = 256

// 短语收缩表，替换结果都比原短语短，且不含表中任何短语
var contractions = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)\bdue to the fact that\b`), "because"},
	{regexp.MustCompile(`(?i)\bat this point in time\b`), "now"},
	{regexp.MustCompile(`(?i)\bin the event that\b`), "if"},
	{regexp.MustCompile(`(?i)\ba large number of\b`), "many"},
	{regexp.MustCompile(`(?i)\bwith regard to\b`), "about"},
	{regexp.MustCompile(`(?i)\bin order to\b`), "to"},
	{regexp.MustCompile(`(?i)\bmake sure to\b`), "ensure you"},
	{regexp.MustCompile(`(?i)\bas well as\b`), "and"},
	{regexp.MustCompile(`(?i)\bprior to\b`), "before"},
	{regexp.MustCompile(`(?i)\bfor example\b`), "e.g."},
	{regexp.MustCompile(`(?i)\bdo not\b`), "don't"},
	{regexp.MustCompile(`(?i)\bdoes not\b`), "doesn't"},
	{regexp.MustCompile(`(?i)\bcannot\b`), "can't"},
	{regexp.MustCompile(`(?i)\bwill not\b`), "won't"},
	{regexp.MustCompile(`(?i)\bshould not\b`), "shouldn't"},
	{regexp.MustCompile(`(?i)\bis not\b`), "isn't"},
	{regexp.MustCompile(`(?i)\byou are\b`), "you're"},
	{regexp.MustCompile(`(?i)\bit is\b`), "it's"},
}

// Compress 机械压缩提示词：短语收缩 + 空白折叠。
// 反复应用直到不再变化，因此 Compress(Compress(x)) == Compress(x)。
func Compress(text string) string {
	out := collapseWhitespace(text)
	for {
		next := out
		for _, c := range contractions {
			next = c.pattern.ReplaceAllStringFunc(next, func(m string) string {
				return matchCase(m, c.repl)
			})
		}
		next = collapseWhitespace(next)
		if next == out {
			return out
		}
		out = next
	}
}

// matchCase 原短语首字母大写时替换结果也首字母大写
func matchCase(orig, repl string) string {
	r, _ := utf8.DecodeRuneInString(orig)
	if !unicode.IsUpper(r) || repl == "" {
		return repl
	}
	first, size := utf8.DecodeRuneInString(repl)
	return string(unicode.ToUpper(first)) + repl[size:]
}

// collapseWhitespace 行内空白折叠为单个空格并去掉首尾，连续空行保留一个
func collapseWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

type promptEntry struct {
	original   string
	compressed string
}

// PromptCache 缓存系统提示词的原文与压缩版本
type PromptCache struct {
	entries *lru.Cache[string, promptEntry]
	hits    atomic.Int64
	misses  atomic.Int64
	logger  *zap.Logger
}

// NewPromptCache 创建提示词缓存
func NewPromptCache(size int, logger *zap.Logger) (*PromptCache, error) {
	if size <= 0 {
		size = DefaultPromptCacheSize
	}
	entries, err := lru.New[string, promptEntry](size)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptCache{entries: entries, logger: logger.With(zap.String("component", "prompt_cache"))}, nil
}

// GetOrCache 返回适合该等级的提示词：free 拿压缩版本，其余拿原文。
// 同一 id 的原文变化时重新压缩。
func (c *PromptCache) GetOrCache(id, fullText string, t tier.Tier) string {
	e, ok := c.entries.Get(id)
	if ok && e.original == fullText {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
		e = promptEntry{original: fullText, compressed: Compress(fullText)}
		c.entries.Add(id, e)
		c.logger.Debug("prompt cached",
			zap.String("id", id),
			zap.Int("original_len", len(e.original)),
			zap.Int("compressed_len", len(e.compressed)))
	}

	if tier.ParseTier(string(t)) == tier.TierFree {
		return e.compressed
	}
	return e.original
}

// Len 当前条目数
func (c *PromptCache) Len() int { return c.entries.Len() }

// Stats 返回统计
func (c *PromptCache) Stats() Stats {
	return Stats{
		Size:   c.entries.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
