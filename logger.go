package bufferpool

import "github.com/sirixdb/sirix-go/internal/logging"

// Logger is the minimal logging interface the buffer manager accepts,
// identical in shape to the teacher's dcache.Logger so callers can plug
// in *log.Logger or any structured logger with a Printf method without
// this module importing a logging framework of its own.
type Logger = logging.Logger
