// Package telemetry 初始化 OpenTelemetry 的 TracerProvider 与 MeterProvider。
// 禁用时保持全局 noop 实现，不连接任何外部服务；pipeline 与 HTTP 中间件
// 通过 otel 全局对象取得 tracer，因此无需感知是否启用。
package telemetry
