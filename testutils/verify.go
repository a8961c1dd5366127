// Package testutils contains helpers shared by this repo's tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain is goleak.VerifyTestMain for packages whose tests start
// background workers.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m)
}
