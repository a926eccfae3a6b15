package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/inferflow/rag"
)

// record 知识条目的 JSON 形式
type record struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Section  string         `json:"section"`
	Metadata map[string]any `json:"metadata"`
}

// JSONLoader 读取 JSON 数组、单个对象或 JSONL，每条记录一个文档
type JSONLoader struct{}

// NewJSONLoader 创建 JSONLoader
func NewJSONLoader() *JSONLoader { return &JSONLoader{} }

// Load 实现 DocumentLoader
func (l *JSONLoader) Load(ctx context.Context, path, source string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	var records []record
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		records, err = parseJSONL(data)
	} else {
		records, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("json loader: %s: %w", source, err)
	}

	docs := make([]rag.Document, 0, len(records))
	for i, rec := range records {
		if strings.TrimSpace(rec.Content) == "" {
			continue
		}
		id := rec.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", source, i)
		}
		meta := make(map[string]any, len(rec.Metadata)+3)
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		meta["source"] = source
		if rec.Source != "" {
			meta["source"] = rec.Source
		}
		meta["section"] = classifySection(rec.Section)
		meta["loader"] = "json"

		docs = append(docs, rag.Document{ID: id, Content: rec.Content, Metadata: meta})
	}
	return docs, nil
}

func parseJSON(data []byte) ([]record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var records []record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return []record{rec}, nil
}

func parseJSONL(data []byte) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// SupportedTypes 实现 DocumentLoader
func (l *JSONLoader) SupportedTypes() []string { return []string{".json", ".jsonl"} }
