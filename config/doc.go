// Package config 提供 InferFlow 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、校验，
// 以及等级限额文件的热加载监听。
package config
