package tokenizer

import (
	"strings"

	"go.uber.org/zap"
)

// ElisionMarker 截断时插入在首尾两段之间的标记
const ElisionMarker = "\n\n[... content truncated ...]\n\n"

const (
	headShare = 0.7

	examplesShare      = 0.5
	bestPracticesShare = 0.3
	documentationShare = 0.2
)

// Sections 结构化检索上下文的三个分区
type Sections struct {
	Examples      string `json:"examples,omitempty"`
	BestPractices string `json:"best_practices,omitempty"`
	Documentation string `json:"documentation,omitempty"`
}

// sectionSeparator 分区之间的分隔
const sectionSeparator = "\n\n"

func (s Sections) parts() [3][2]string {
	return [3][2]string{
		{"Examples", s.Examples},
		{"Best Practices", s.BestPractices},
		{"Documentation", s.Documentation},
	}
}

func heading(title string) string { return "## " + title + "\n" }

// Render 将非空分区按固定顺序拼接
func (s Sections) Render() string {
	var b strings.Builder
	for _, part := range s.parts() {
		if part[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sectionSeparator)
		}
		b.WriteString(heading(part[0]))
		b.WriteString(part[1])
	}
	return b.String()
}

// renderOverhead Render 为非空分区追加的标题与分隔符的估算 token 数
func (s Sections) renderOverhead() int {
	var b strings.Builder
	for _, part := range s.parts() {
		if part[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sectionSeparator)
		}
		b.WriteString(heading(part[0]))
	}
	return EstimateTokens(b.String())
}

// Budgeter 负责 token 估算与预算截断
type Budgeter struct {
	counter Counter
	logger  *zap.Logger
}

// NewBudgeter 创建预算器；counter 为空时只使用字符估算
func NewBudgeter(counter Counter, logger *zap.Logger) *Budgeter {
	if counter == nil {
		counter = Estimator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budgeter{counter: counter, logger: logger.With(zap.String("component", "token_budgeter"))}
}

// EstimateTokens 字符估算，与计数器无关
func (b *Budgeter) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// CountTokens 优先使用精确计数器，失败时退回估算
func (b *Budgeter) CountTokens(text string) int {
	n, err := b.counter.CountTokens(text)
	if err != nil {
		b.logger.Debug("token counter failed, using estimate",
			zap.String("counter", b.counter.Name()), zap.Error(err))
		return EstimateTokens(text)
	}
	return n
}

// EnforceTokenBudget 见 EnforceTokenBudget 函数
func (b *Budgeter) EnforceTokenBudget(text string, maxTokens int) string {
	out := EnforceTokenBudget(text, maxTokens)
	if len(out) != len(text) {
		b.logger.Debug("text truncated to token budget",
			zap.Int("max_tokens", maxTokens),
			zap.Int("estimated_tokens", EstimateTokens(text)))
	}
	return out
}

// AllocateSections 见 AllocateSections 函数
func (b *Budgeter) AllocateSections(s Sections, maxTokens int) Sections {
	return AllocateSections(s, maxTokens)
}

// maxRecountRounds 精确计数超预算时按比例收缩的最多轮数
const maxRecountRounds = 4

// RenderContext 分配并渲染检索上下文，保证计数器给出的 token 数不超过 maxTokens。
// 分配按字符估算，计数器（例如 tiktoken）结果更大时按比例收缩预算重新分配。
func (b *Budgeter) RenderContext(s Sections, maxTokens int) string {
	budget := maxTokens
	for round := 0; round <= maxRecountRounds && budget > 0; round++ {
		out := AllocateSections(s, budget).Render()
		n := b.CountTokens(out)
		if n <= maxTokens {
			return out
		}
		next := budget * maxTokens / n
		if next >= budget {
			next = budget - 1
		}
		b.logger.Debug("rendered context over budget, shrinking",
			zap.String("counter", b.counter.Name()),
			zap.Int("tokens", n),
			zap.Int("max_tokens", maxTokens),
			zap.Int("next_budget", next))
		budget = next
	}
	b.logger.Warn("retrieval context dropped, cannot fit token budget", zap.Int("max_tokens", maxTokens))
	return ""
}

// CountMessages 按计数器统计一组文本的 token 总数
func (b *Budgeter) CountMessages(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += b.CountTokens(t)
	}
	return total
}

// EnforceTokenBudget 超出预算时保留允许字符数的前 70% 与后 30%，中间用省略标记连接。
// 标记本身计入预算，结果的估算 token 数不超过 maxTokens。
func EnforceTokenBudget(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	maxChars := maxTokens * CharsPerToken
	marker := []rune(ElisionMarker)

	available := maxChars - len(marker)
	if available <= 0 {
		// 预算小到放不下标记，只保留开头
		return string(runes[:maxChars])
	}

	head := int(float64(available) * headShare)
	tail := available - head

	var b strings.Builder
	b.Grow(maxChars * 4)
	b.WriteString(string(runes[:head]))
	b.WriteString(ElisionMarker)
	b.WriteString(string(runes[len(runes)-tail:]))
	return b.String()
}

// AllocateSections 先扣除 Render 的标题与分隔开销，再按 50/30/20 切分剩余预算，
// 各分区独立截断，互不挤占；渲染结果的估算 token 数不超过 maxTokens。
func AllocateSections(s Sections, maxTokens int) Sections {
	maxTokens -= s.renderOverhead()
	if maxTokens <= 0 {
		return Sections{}
	}
	return Sections{
		Examples:      EnforceTokenBudget(s.Examples, int(float64(maxTokens)*examplesShare)),
		BestPractices: EnforceTokenBudget(s.BestPractices, int(float64(maxTokens)*bestPracticesShare)),
		Documentation: EnforceTokenBudget(s.Documentation, int(float64(maxTokens)*documentationShare)),
	}
}
