package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/inferflow/rag"
)

// TextLoader 整个文本文件作为一个文档
type TextLoader struct{}

// NewTextLoader 创建 TextLoader
func NewTextLoader() *TextLoader { return &TextLoader{} }

// Load 实现 DocumentLoader
func (l *TextLoader) Load(ctx context.Context, path, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}

	return []rag.Document{{
		ID:      source,
		Content: content,
		Metadata: map[string]any{
			"source":  source,
			"section": SectionDocumentation,
			"loader":  "text",
		},
	}}, nil
}

// SupportedTypes 实现 DocumentLoader
func (l *TextLoader) SupportedTypes() []string { return []string{".txt"} }
