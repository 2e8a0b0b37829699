// Package graph builds lazy, pure expression graphs and evaluates them on
// demand. Constructing a node performs no work; Materialize walks the
// dependencies of a node and computes each one at most once per Session.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var nextID atomic.Uint64

// Node is a deferred computation producing a T.
type Node[T any] struct {
	id      uint64
	label   string
	compute func(ctx context.Context, s *Session) (T, error)
}

func newNode[T any](label string, fn func(ctx context.Context, s *Session) (T, error)) *Node[T] {
	return &Node[T]{id: nextID.Add(1), label: label, compute: fn}
}

// Label names the node in logs, reports and errors.
func (n *Node[T]) Label() string {
	return n.label
}

// Const wraps an already available value.
func Const[T any](label string, v T) *Node[T] {
	return newNode(label, func(context.Context, *Session) (T, error) {
		return v, nil
	})
}

// Source defers a leaf computation such as reading an input file.
func Source[T any](label string, fn func(ctx context.Context) (T, error)) *Node[T] {
	return newNode(label, func(ctx context.Context, _ *Session) (T, error) {
		return fn(ctx)
	})
}

// Map derives a node from one input.
func Map[A, T any](label string, a *Node[A], fn func(ctx context.Context, a A) (T, error)) *Node[T] {
	return newNode(label, func(ctx context.Context, s *Session) (T, error) {
		av, err := Evaluate(ctx, s, a)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, av)
	})
}

// Map2 derives a node from two inputs, evaluated concurrently.
func Map2[A, B, T any](label string, a *Node[A], b *Node[B], fn func(ctx context.Context, a A, b B) (T, error)) *Node[T] {
	return newNode(label, func(ctx context.Context, s *Session) (T, error) {
		var (
			av A
			bv B
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { av, err = Evaluate(gctx, s, a); return err })
		g.Go(func() (err error) { bv, err = Evaluate(gctx, s, b); return err })
		if err := g.Wait(); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, av, bv)
	})
}

// Map3 derives a node from three inputs, evaluated concurrently.
func Map3[A, B, C, T any](label string, a *Node[A], b *Node[B], c *Node[C], fn func(ctx context.Context, a A, b B, c C) (T, error)) *Node[T] {
	return newNode(label, func(ctx context.Context, s *Session) (T, error) {
		var (
			av A
			bv B
			cv C
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { av, err = Evaluate(gctx, s, a); return err })
		g.Go(func() (err error) { bv, err = Evaluate(gctx, s, b); return err })
		g.Go(func() (err error) { cv, err = Evaluate(gctx, s, c); return err })
		if err := g.Wait(); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, av, bv, cv)
	})
}

// NodeError identifies the node whose computation failed.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph: node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Evaluation records one computed node.
type Evaluation struct {
	Node     string        `json:"node"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Report summarizes a session: the nodes it computed, in completion order,
// and the warnings they raised.
type Report struct {
	Evaluated []Evaluation `json:"evaluated"`
	Warnings  []error      `json:"-"`
}

type outcome struct {
	value any
	err   error
}

// Session memoizes node results. Concurrent requests for the same node share
// one computation.
type Session struct {
	group singleflight.Group

	mu      sync.Mutex
	results map[uint64]outcome
	report  Report
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{results: make(map[uint64]outcome)}
}

type sessionKey struct{}

// Warn attaches a non-fatal warning to the session evaluating ctx. Outside a
// session the warning is only logged.
func Warn(ctx context.Context, w error) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok {
		zap.L().Warn("graph: warning outside session", zap.Error(w))
		return
	}
	s.mu.Lock()
	s.report.Warnings = append(s.report.Warnings, w)
	s.mu.Unlock()
}

// Report returns a snapshot of the session's evaluations and warnings.
func (s *Session) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Report{
		Evaluated: append([]Evaluation(nil), s.report.Evaluated...),
		Warnings:  append([]error(nil), s.report.Warnings...),
	}
}

func (s *Session) lookup(id uint64) (outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.results[id]
	return o, ok
}

// Evaluate returns the value of n, computing it and its inputs on first use.
func Evaluate[T any](ctx context.Context, s *Session, n *Node[T]) (T, error) {
	if o, ok := s.lookup(n.id); ok {
		return result[T](o)
	}

	v, err, _ := s.group.Do(strconv.FormatUint(n.id, 10), func() (any, error) {
		if o, ok := s.lookup(n.id); ok {
			return o.value, o.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		val, err := n.compute(context.WithValue(ctx, sessionKey{}, s), s)
		elapsed := time.Since(start)

		var nodeErr *NodeError
		if err != nil && !errors.As(err, &nodeErr) {
			err = &NodeError{Node: n.label, Err: err}
		}

		ev := Evaluation{Node: n.label, Duration: elapsed}
		if err != nil {
			ev.Err = err.Error()
		}
		s.mu.Lock()
		s.results[n.id] = outcome{value: val, err: err}
		s.report.Evaluated = append(s.report.Evaluated, ev)
		s.mu.Unlock()

		zap.L().Debug("graph: evaluated node",
			zap.String("node", n.label),
			zap.Duration("duration", elapsed),
			zap.Bool("failed", err != nil),
		)
		return val, err
	})
	return result[T](outcome{value: v, err: err})
}

func result[T any](o outcome) (T, error) {
	v, _ := o.value.(T)
	return v, o.err
}

// Materialize evaluates n in a fresh session.
func Materialize[T any](ctx context.Context, n *Node[T]) (T, *Report, error) {
	s := NewSession()
	v, err := Evaluate(ctx, s, n)
	return v, s.Report(), err
}
