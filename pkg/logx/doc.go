// Package logx provides a small structured logging facade over zerolog.
//
// It exists so components can hold a Logger value whose sinks and level can
// be swapped at runtime by the owning Service (config hot-reload) without
// re-plumbing loggers through the object graph.
package logx
