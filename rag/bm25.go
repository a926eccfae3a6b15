package rag

import (
	"math"
	"strings"
	"unicode"
)

// BM25 参数
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// tokenize 小写并按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bm25Scores 计算 query 对 docs 的 BM25 得分，并除以最大得分归一化到 [0,1]。
// 得分为 0 的文档不出现在结果中。
func bm25Scores(query string, docs []Document) map[string]float64 {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(docs) == 0 {
		return nil
	}

	termFreqs := make([]map[string]int, len(docs))
	docLens := make([]int, len(docs))
	termDocCount := make(map[string]int)
	totalLen := 0

	for i, doc := range docs {
		terms := tokenize(doc.Content)
		docLens[i] = len(terms)
		totalLen += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		termFreqs[i] = tf
		for term := range tf {
			termDocCount[term]++
		}
	}

	n := float64(len(docs))
	avgDocLen := float64(totalLen) / n
	if avgDocLen == 0 {
		return nil
	}

	scores := make(map[string]float64)
	maxScore := 0.0
	for i, doc := range docs {
		score := 0.0
		docLen := float64(docLens[i])
		for _, term := range queryTerms {
			tf, ok := termFreqs[i][term]
			if !ok {
				continue
			}
			df := float64(termDocCount[term])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)
			num := float64(tf) * (bm25K1 + 1.0)
			den := float64(tf) + bm25K1*(1.0-bm25B+bm25B*(docLen/avgDocLen))
			score += idf * (num / den)
		}
		if score > 0 {
			scores[doc.ID] = score
			if score > maxScore {
				maxScore = score
			}
		}
	}

	for id, s := range scores {
		scores[id] = s / maxScore
	}
	return scores
}

// cosine 余弦相似度，维度不一致或零向量时为 0
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
