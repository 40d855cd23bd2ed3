package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "KINOTEKA_TEST_MODE"

var testMode struct {
	sync.RWMutex
	loaded bool
	on     bool
}

// InTestMode reports whether commands and the router should skip process
// side effects such as request logging and listening on sockets.
func InTestMode() bool {
	testMode.RLock()
	if testMode.loaded {
		defer testMode.RUnlock()
		return testMode.on
	}
	testMode.RUnlock()
	return RefreshTestMode()
}

// RefreshTestMode re-reads KINOTEKA_TEST_MODE and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Lock()
	testMode.loaded, testMode.on = true, on
	testMode.Unlock()
	return on
}
