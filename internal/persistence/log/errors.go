package log

import "errors"

// ErrStop ends ScanTicks early without an error.
var ErrStop = errors.New("stop scan")
