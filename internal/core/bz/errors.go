// Package bz 跨领域共享的业务常量与错误分类
package bz

import (
	"errors"
	"fmt"
)

// 错误分类，通过 errors.Is 判断
var (
	// ErrConfiguration 未知/停用的资源，或不支持的格式
	ErrConfiguration = errors.New("configuration error")
	// ErrIO 文件系统读写失败
	ErrIO = errors.New("io error")
	// ErrNotYetAvailable 查询范围超过了保证完整的最新边界，属于预期状态
	ErrNotYetAvailable = errors.New("not yet available")
	// ErrAssembly 已存在的素材无法拼接/转码
	ErrAssembly = errors.New("assembly failure")
	// ErrNoMaterial 某天没有任何真实素材
	ErrNoMaterial = errors.New("no material")
)

// Error 带上下文的结构化错误，布尔快速路径之外用于诊断
type Error struct {
	Op       string
	Resource int
	Kind     error
	Err      error
}

// NewError 构造结构化错误，err 可为 nil
func NewError(op string, resource int, kind, err error) *Error {
	return &Error{Op: op, Resource: resource, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: resource[%d]: %v", e.Op, e.Resource, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露分类与底层错误
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
