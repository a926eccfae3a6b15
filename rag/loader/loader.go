package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/inferflow/rag"
)

// 段落类别，对应 tokenizer.Sections 的三个分区
const (
	SectionExamples      = "examples"
	SectionBestPractices = "best_practices"
	SectionDocumentation = "documentation"
)

// DocumentLoader 从单个文件读取文档
type DocumentLoader interface {
	// Load 读取 path，source 为写入元数据的相对路径
	Load(ctx context.Context, path, source string) ([]rag.Document, error)

	// SupportedTypes 返回支持的扩展名（含点）
	SupportedTypes() []string
}

// Registry 按扩展名路由到对应的 DocumentLoader
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader
}

// NewRegistry 创建预置内建加载器的注册表
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{NewTextLoader(), NewMarkdownLoader(), NewJSONLoader()} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register 添加或替换某扩展名的加载器
func (r *Registry) Register(ext string, loader DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

// Supports 是否有该文件的加载器
func (r *Registry) Supports(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load 根据扩展名选择加载器
func (r *Registry) Load(ctx context.Context, path, source string) ([]rag.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q", path)
	}

	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}
	return l.Load(ctx, path, source)
}

// SupportedTypes 返回已注册的扩展名，已排序
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// classifySection 由标题或显式字段推断段落类别
func classifySection(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.HasPrefix(l, "example"):
		return SectionExamples
	case strings.HasPrefix(l, "best practice"), strings.HasPrefix(l, "best_practice"):
		return SectionBestPractices
	default:
		return SectionDocumentation
	}
}
