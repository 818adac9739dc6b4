// internal/executor/future.go

package executor

// Waker resumes a suspended computation. Waking only marks the owner as
// pending and pends its dispatcher; it never polls.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Future is a suspendable computation written as an explicit state
// machine. Poll advances it one step. It returns ok=false when it is
// suspended, after arranging for w to be woken; ok=true with the result
// when it has completed. A completed future must not be polled again.
type Future[T any] interface {
	Poll(w Waker) (T, bool)
}

// Func adapts a poll function to Future.
type Func[T any] func(w Waker) (T, bool)

func (f Func[T]) Poll(w Waker) (T, bool) { return f(w) }

// Result is the output of a fallible future.
type Result[T any] struct {
	Value T
	Err   error
}

// Ready returns a future that completes immediately with v.
func Ready[T any](v T) Future[T] {
	return Func[T](func(Waker) (T, bool) { return v, true })
}

// Map transforms the result of f.
func Map[T, U any](f Future[T], fn func(T) U) Future[U] {
	return Func[U](func(w Waker) (U, bool) {
		v, ok := f.Poll(w)
		if !ok {
			var zero U
			return zero, false
		}
		return fn(v), true
	})
}

// Then runs f, feeds its result to next and continues with the future next
// returns.
func Then[T, U any](f Future[T], next func(T) Future[U]) Future[U] {
	var second Future[U]
	return Func[U](func(w Waker) (U, bool) {
		if second == nil {
			v, ok := f.Poll(w)
			if !ok {
				var zero U
				return zero, false
			}
			second = next(v)
		}
		return second.Poll(w)
	})
}

// Discard drops the result of f, giving the shape task bodies return.
func Discard[T any](f Future[T]) Future[struct{}] {
	return Map(f, func(T) struct{} { return struct{}{} })
}
