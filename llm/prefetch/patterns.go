package prefetch

import (
	"fmt"
	"strings"
)

// pattern 关键词到后续查询模板的映射，模板中的 %s 替换为关键词后的主题
type pattern struct {
	keyword   string
	templates []string
}

var defaultPatterns = []pattern{
	{"difference between", []string{"when to use %s", "pros and cons of %s", "examples of %s"}},
	{"how to install", []string{"how to configure %s", "how to uninstall %s", "common %s installation errors"}},
	{"install", []string{"how to configure %s", "how to uninstall %s", "common %s installation errors"}},
	{"error", []string{"how to fix %s", "what causes %s", "how to debug %s"}},
	{"deploy", []string{"how to roll back %s", "how to monitor %s", "how to scale %s"}},
	{"what is", []string{"how does %s work", "examples of %s", "alternatives to %s"}},
	{"how to", []string{"best practices to %s", "common mistakes when trying to %s", "fastest way to %s"}},
}

// matchPatterns 按表顺序匹配第一个出现的关键词
func matchPatterns(patterns []pattern, query string) []string {
	lower := strings.ToLower(strings.TrimSpace(query))
	for _, p := range patterns {
		idx := strings.Index(lower, p.keyword)
		if idx < 0 {
			continue
		}
		subject := strings.Trim(lower[idx+len(p.keyword):], " \t\n?!.,:;")
		if subject == "" {
			subject = strings.Trim(lower, " \t\n?!.,:;")
		}
		out := make([]string, 0, len(p.templates))
		for _, tpl := range p.templates {
			out = append(out, fmt.Sprintf(tpl, subject))
		}
		if len(out) > MaxPredictions {
			out = out[:MaxPredictions]
		}
		return out
	}
	return nil
}
