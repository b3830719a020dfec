// Package guard switches the process into test mode when imported, so that
// code under test never starts servers or workers.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("INVOICELY_TEST_MODE") == "" {
			_ = os.Setenv("INVOICELY_TEST_MODE", "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
