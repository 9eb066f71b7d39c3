// Package debug provides cheap, compile-gated assertions.
//
// Build with `-tags debug` to enable; release builds pay nothing for
// these checks since the function bodies reduce to no-ops.
package debug

// Assert panics with msgs if cond is false. No-op unless built with
// the `debug` tag.
func Assert(cond bool, msgs ...interface{}) {
	assert(cond, msgs...)
}

// AssertNoErr panics if err is non-nil. No-op unless built with the
// `debug` tag.
func AssertNoErr(err error) {
	assertNoErr(err)
}

// AssertMsg panics with msg if cond is false.
func AssertMsg(cond bool, msg string) {
	assert(cond, msg)
}
