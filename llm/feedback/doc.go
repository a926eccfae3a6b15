// Package feedback 持久化每次执行的结果（成功与否、评分、成本、延迟），
// 并按模型聚合为 ModelStats 供模型选择器使用。记录只追加，从不更新。
package feedback
