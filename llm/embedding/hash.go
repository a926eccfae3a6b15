package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions 哈希向量的默认维度
const DefaultHashDimensions = 384

// HashProvider 由 FNV-1a 哈希派生的确定性伪向量。
// 词与相邻词对被散列到固定维度并带符号累加，最后做 L2 归一化。
// 只能捕获字面重叠，召回明显弱于真实嵌入模型。
type HashProvider struct {
	dimensions int
}

// NewHashProvider 创建哈希向量提供者
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashProvider{dimensions: dimensions}
}

func (h *HashProvider) Name() string    { return "fnv1a-hash" }
func (h *HashProvider) Dimensions() int { return h.dimensions }

// EmbedQuery 不会失败，空文本返回零向量
func (h *HashProvider) EmbedQuery(_ context.Context, query string) ([]float64, error) {
	return h.Vector(query), nil
}

// Vector 计算文本的哈希向量
func (h *HashProvider) Vector(text string) []float64 {
	vec := make([]float64, h.dimensions)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(vec, w, 1.0)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	normalize(vec)
	return vec
}

func (h *HashProvider) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// normalize 原地 L2 归一化，零向量保持不变
func normalize(vec []float64) {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
}
