//go:build debug

package debug

import "fmt"

const Enabled = true

func assert(cond bool, msgs ...interface{}) {
	if !cond {
		panic(fmt.Sprintln(append([]interface{}{"assertion failed:"}, msgs...)...))
	}
}

func assertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
