// Package storage is the daemon's optional persistence layer:
//
//   - Notification audit appends (what was shown, when, with what outcome)
//   - Replace-key handle state (so restarts update popups in place)
package storage
