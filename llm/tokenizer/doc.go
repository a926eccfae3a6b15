// Package tokenizer 提供 Token 估算与预算截断。
//
// 估算采用 ceil(字符数/4)，超预算时保留前 70% 与后 30% 的字符并插入省略标记；
// 结构化检索上下文按 50/30/20 分配子预算后分别截断。
// 需要精确计数时可接入 tiktoken。
package tokenizer
