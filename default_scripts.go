package blebridge

import _ "embed"

// DefaultMonitorScript is the script `logitow run` executes when no file is given.
// It logs every event and connects to each discovered brick.
//
//go:embed scripts/monitor.lua
var DefaultMonitorScript string
