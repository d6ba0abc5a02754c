// safego.go — Panic-recovering goroutine launcher.
package util

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeGo launches fn in a goroutine with deferred panic recovery.
// On panic: logs the stack trace via log. Does NOT os.Exit — background
// panics should be survivable so the daemon stays up. This is the
// supervisor primitive §5/§9 calls for in place of process-level
// uncaughtException handlers: every long-lived task goes through here.
func SafeGo(log *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if log == nil {
					log = zap.NewNop()
				}
				log.Error("panic in background goroutine",
					zap.String("goroutine", name),
					zap.Any("recover", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
