package loader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/inferflow/rag"
)

// MarkdownLoader 按 ATX 标题切分 Markdown，每节一个文档。
// 以 "Example" 开头的标题归入 examples，"Best practice" 归入 best_practices。
type MarkdownLoader struct{}

// NewMarkdownLoader 创建 MarkdownLoader
func NewMarkdownLoader() *MarkdownLoader { return &MarkdownLoader{} }

// Load 实现 DocumentLoader
func (l *MarkdownLoader) Load(ctx context.Context, path, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}
	defer f.Close()

	type section struct {
		heading string
		lines   []string
	}
	var sections []section

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if heading, _ := parseHeading(line); heading != "" {
			sections = append(sections, section{heading: heading})
			continue
		}
		if len(sections) == 0 {
			sections = append(sections, section{})
		}
		sections[len(sections)-1].lines = append(sections[len(sections)-1].lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", source, err)
	}

	docs := make([]rag.Document, 0, len(sections))
	for i, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if body == "" {
			continue
		}
		content := body
		if sec.heading != "" {
			content = sec.heading + "\n" + body
		}
		meta := map[string]any{
			"source":  source,
			"section": classifySection(sec.heading),
			"loader":  "markdown",
		}
		if sec.heading != "" {
			meta["title"] = sec.heading
		}
		docs = append(docs, rag.Document{
			ID:       fmt.Sprintf("%s#%d", source, i),
			Content:  content,
			Metadata: meta,
		})
	}
	return docs, nil
}

// parseHeading 识别 "# 标题" 形式，返回标题文本与级别 (1-6)
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level < 1 || level > 6 {
		return "", 0
	}
	if level < len(trimmed) && trimmed[level] != ' ' {
		return "", 0
	}
	heading = strings.TrimSpace(trimmed[level:])
	if heading == "" {
		return "", 0
	}
	return heading, level
}

// SupportedTypes 实现 DocumentLoader
func (l *MarkdownLoader) SupportedTypes() []string { return []string{".md"} }
