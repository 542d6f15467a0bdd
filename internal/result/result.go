// Package result implements the two-case outcome type the protocol
// pipelines are built from. Every step of an SSO or ACS flow is a function
// from the previous value to a new Result; a failure at any step
// short-circuits the rest of the chain untouched.
package result

import "fmt"

// Failure is the failure case of a Result. Exactly one of Message or Err
// is meaningful: Message carries a user-visible protocol failure (mapped
// to HTTP 401 at the boundary), Err carries an unexpected internal fault
// (mapped to HTTP 500, logged but never shown).
type Failure struct {
	Message string
	Err     error
}

// IsInternal reports whether the failure is an internal fault rather than
// a protocol-level rejection.
func (f *Failure) IsInternal() bool {
	return f.Err != nil
}

// Detail returns the full failure text for logging.
func (f *Failure) Detail() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Message
}

// Result holds either a success value or a Failure.
type Result[T any] struct {
	value   T
	failure *Failure
}

// Ok wraps a success value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail creates a protocol failure with a user-visible message.
func Fail[T any](message string) Result[T] {
	return Result[T]{failure: &Failure{Message: message}}
}

// Failf creates a protocol failure from a format string.
func Failf[T any](format string, args ...any) Result[T] {
	return Fail[T](fmt.Sprintf(format, args...))
}

// FailErr creates an internal failure wrapping err.
func FailErr[T any](err error) Result[T] {
	return Result[T]{failure: &Failure{Err: err}}
}

// Forward propagates an existing failure into a result of another type.
func Forward[T any](f *Failure) Result[T] {
	return Result[T]{failure: f}
}

func (r Result[T]) IsOk() bool   { return r.failure == nil }
func (r Result[T]) IsFail() bool { return r.failure != nil }

// Value returns the success value; only meaningful when IsOk.
func (r Result[T]) Value() T { return r.value }

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure { return r.failure }

// Void is the success payload for results that carry no value.
type Void struct{}

// Done is the successful void result.
func Done() Result[Void] { return Ok(Void{}) }

// Chain applies f to a successful result, or propagates the prior failure
// untouched.
func Chain[A, B any](r Result[A], f func(A) Result[B]) Result[B] {
	if r.failure != nil {
		return Forward[B](r.failure)
	}
	return f(r.value)
}

// ChainErr lifts a (value, error) function into the chain; a non-nil
// error becomes an internal failure.
func ChainErr[A, B any](r Result[A], f func(A) (B, error)) Result[B] {
	return Chain(r, func(a A) Result[B] {
		b, err := f(a)
		if err != nil {
			return FailErr[B](err)
		}
		return Ok(b)
	})
}

// Map transforms the success value with a function that cannot fail.
func Map[A, B any](r Result[A], f func(A) B) Result[B] {
	return Chain(r, func(a A) Result[B] { return Ok(f(a)) })
}

// Validate runs a check against the success value but, when the check
// passes, returns the original result rather than the check's.
func Validate[A any](r Result[A], check func(A) Result[Void]) Result[A] {
	out := Chain(r, check)
	if out.failure != nil {
		return Forward[A](out.failure)
	}
	return r
}

// Tap runs a side effect on the success value and passes the result
// through unchanged.
func Tap[A any](r Result[A], f func(A)) Result[A] {
	if r.failure == nil {
		f(r.value)
	}
	return r
}

// Pair is the success value of Merge2.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Triple is the success value of Merge3.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// Merge2 combines two results; the first failure wins.
func Merge2[A, B any](a Result[A], b Result[B]) Result[Pair[A, B]] {
	if a.failure != nil {
		return Forward[Pair[A, B]](a.failure)
	}
	if b.failure != nil {
		return Forward[Pair[A, B]](b.failure)
	}
	return Ok(Pair[A, B]{First: a.value, Second: b.value})
}

// Merge3 combines three results; the first failure wins.
func Merge3[A, B, C any](a Result[A], b Result[B], c Result[C]) Result[Triple[A, B, C]] {
	if a.failure != nil {
		return Forward[Triple[A, B, C]](a.failure)
	}
	if b.failure != nil {
		return Forward[Triple[A, B, C]](b.failure)
	}
	if c.failure != nil {
		return Forward[Triple[A, B, C]](c.failure)
	}
	return Ok(Triple[A, B, C]{First: a.value, Second: b.value, Third: c.value})
}
