// Package testing flips the process into test mode when imported by a test
// binary, so commands and routers skip their runtime side effects.
package testing

import "os"

const testModeEnv = "KINOTEKA_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}
