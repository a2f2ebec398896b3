// Package filter 提供网关请求的有序过滤器链。
//
// 过滤器按 Order 升序包裹，Order 相同时保持注册顺序：
//
//	A(1).pre -> B(2).pre -> handler -> B(2).post -> A(1).post
//
// 过滤器可以在调用 next 前修改请求，在 next 返回后修改响应，或者不调用 next 直接写入响应（短路）。
// 请求被取消后，链在进入下一层前停止。
package filter

import (
	"cmp"
	"context"
	"slices"
)

// Next 调用链中剩余部分（后续过滤器与终端处理器）
type Next func() error

// Handler 链末端的处理器，通常是转发到上游
type Handler func(fc *Context) error

// Filter 过滤器
type Filter interface {
	// Name 过滤器名称，用于日志与指标
	Name() string
	// Order 越小越靠外层
	Order() int
	// Filter 处理请求，调用 next 进入下一层
	Filter(fc *Context, next Next) error
}

// Chain 排好序的过滤器链，创建后不可变，可并发使用
type Chain struct {
	filters []Filter
}

// NewChain 按 Order 稳定排序创建过滤器链
func NewChain(filters ...Filter) *Chain {
	fs := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			fs = append(fs, f)
		}
	}
	slices.SortStableFunc(fs, func(a, b Filter) int {
		return cmp.Compare(a.Order(), b.Order())
	})
	return &Chain{filters: fs}
}

// Filters 排序后的过滤器
func (c *Chain) Filters() []Filter {
	return slices.Clone(c.filters)
}

// Handle 依次执行过滤器与终端处理器。
// 请求 Context 已取消时返回其 Cause，更内层的过滤器不再执行。
func (c *Chain) Handle(fc *Context, terminal Handler) error {
	return c.step(fc, 0, terminal)
}

func (c *Chain) step(fc *Context, i int, terminal Handler) error {
	if ctx := fc.Context(); ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if i == len(c.filters) {
		if terminal == nil {
			return nil
		}
		return terminal(fc)
	}
	return c.filters[i].Filter(fc, func() error {
		return c.step(fc, i+1, terminal)
	})
}

// Func 将函数适配为 Filter
func Func(name string, order int, fn func(fc *Context, next Next) error) Filter {
	return &funcFilter{name: name, order: order, fn: fn}
}

type funcFilter struct {
	name  string
	order int
	fn    func(fc *Context, next Next) error
}

func (f *funcFilter) Name() string                        { return f.name }
func (f *funcFilter) Order() int                          { return f.order }
func (f *funcFilter) Filter(fc *Context, next Next) error { return f.fn(fc, next) }
