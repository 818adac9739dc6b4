// internal/ceiling/lock.go

// Package ceiling implements the Stack Resource Policy lock: sharing state
// across priority levels by temporarily raising the running priority to the
// resource's ceiling instead of blocking.
package ceiling

import "fmt"

// Token is the per-core "current effective priority" cell. It starts at 0
// (idle) and only changes inside Run and Lock.
type Token struct {
	cur uint8
}

// Priority returns the current effective priority.
func (t *Token) Priority() uint8 { return t.cur }

// Run executes f at priority p and restores the previous priority after.
// It is the dispatcher's run wrapper.
func (t *Token) Run(p uint8, f func()) {
	prev := t.cur
	t.cur = p
	f()
	t.cur = prev
}

// Resource is a piece of shared state plus its fixed ceiling: the highest
// priority of any task that ever locks it.
type Resource[T any] struct {
	name    string
	ceiling uint8
	value   T
}

// NewResource creates a resource with the given ceiling and initial value.
func NewResource[T any](name string, ceiling uint8, v T) *Resource[T] {
	return &Resource[T]{name: name, ceiling: ceiling, value: v}
}

// Name returns the resource name.
func (r *Resource[T]) Name() string { return r.name }

// Ceiling returns the resource ceiling.
func (r *Resource[T]) Ceiling() uint8 { return r.ceiling }

// Locker couples the priority token with the build's masking strategy.
type Locker struct {
	tok      *Token
	strategy Strategy
}

// NewLocker creates a locker. The strategy may be attached later with
// SetStrategy when it depends on the final interrupt configuration.
func NewLocker(tok *Token, s Strategy) *Locker {
	return &Locker{tok: tok, strategy: s}
}

// SetStrategy replaces the masking strategy.
func (l *Locker) SetStrategy(s Strategy) { l.strategy = s }

// Token returns the priority token the locker raises.
func (l *Locker) Token() *Token { return l.tok }

// Critical runs f with the effective priority raised to ceiling.
//
// At the ceiling already, f runs as is. Below it, every competitor is
// deferred for the duration of f; nothing ever waits. A caller above the
// ceiling means the ceiling analysis was wrong, which panics.
func (l *Locker) Critical(ceiling uint8, f func()) {
	cur := l.tok.cur
	switch {
	case cur == ceiling:
		f()
		return
	case cur > ceiling:
		panic(fmt.Sprintf("ceiling: priority %d locks resource with ceiling %d", cur, ceiling))
	}

	s := l.strategy.Raise(cur, ceiling)
	l.tok.cur = ceiling
	f()
	l.tok.cur = cur
	l.strategy.Restore(s)
}

// Lock gives f exclusive access to the resource value.
func Lock[T, R any](l *Locker, r *Resource[T], f func(*T) R) R {
	var out R
	l.Critical(r.ceiling, func() { out = f(&r.value) })
	return out
}

// LockFunc is Lock without a result.
func LockFunc[T any](l *Locker, r *Resource[T], f func(*T)) {
	l.Critical(r.ceiling, func() { f(&r.value) })
}
