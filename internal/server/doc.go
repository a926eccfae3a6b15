// Package server 管理 HTTP 服务器的监听、运行与优雅关闭。
// API 服务与 /metrics 服务各用一个 Manager，由 cmd 通过 errgroup 一起运行。
package server
