// Package openaicompat 实现 OpenAI Chat Completions 兼容的 llm.Provider。
//
// OpenAI、DeepSeek、Qwen 以及本地 vLLM / Ollama 网关都暴露相同的线格式，
// 同一个 Provider 实例按 ChatRequest.Model 服务回退链上的多个模型。
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
