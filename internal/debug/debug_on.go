//go:build debug

// Package debug provides a centralized, categorized debug logging system.
// Build with -tags debug to enable logging.
package debug

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Enabled indicates whether debug logging is active
const Enabled = true

// Category represents a debug logging category
type Category string

const (
	// Core categories
	APP     Category = "APP"     // Command wiring, sessions, navigation
	FS      Category = "FS"      // Directory listing and size walking
	ARCHIVE Category = "ARCHIVE" // Archive building and cleanup
	BOT     Category = "BOT"     // Telegram updates and dispatch
	STORE   Category = "STORE"   // SQLite settings
	MENU    Category = "MENU"    // Button rendering

	// Detailed subcategories (use sparingly - can be verbose)
	FS_ENTRY Category = "FS_ENTRY" // Individual entry processing (very verbose)
	FS_WALK  Category = "FS_WALK"  // Recursive walks for size and archiving
)

var (
	enabledCategories = map[Category]bool{
		APP:     true,
		FS:      true,
		ARCHIVE: true,
		BOT:     true,
		STORE:   true,
		MENU:    true,
		// Verbose categories disabled by default
		FS_ENTRY: false,
		FS_WALK:  false,
	}
	categoryMu sync.RWMutex

	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000000",
	}).With().Timestamp().Logger()
)

func init() {
	// Format: DISKBOT_DEBUG=APP,FS,BOT or DISKBOT_DEBUG=all or DISKBOT_DEBUG=none
	if env := os.Getenv("DISKBOT_DEBUG"); env != "" {
		categoryMu.Lock()
		defer categoryMu.Unlock()

		env = strings.ToUpper(env)
		switch env {
		case "ALL":
			for cat := range enabledCategories {
				enabledCategories[cat] = true
			}
		case "NONE":
			for cat := range enabledCategories {
				enabledCategories[cat] = false
			}
		default:
			for cat := range enabledCategories {
				enabledCategories[cat] = false
			}
			for _, cat := range strings.Split(env, ",") {
				enabledCategories[Category(strings.TrimSpace(cat))] = true
			}
		}
	}
}

// Log logs a debug message for the specified category
func Log(cat Category, format string, args ...interface{}) {
	categoryMu.RLock()
	enabled := enabledCategories[cat]
	categoryMu.RUnlock()

	if !enabled {
		return
	}

	logger.Debug().Str("cat", string(cat)).Msg(fmt.Sprintf(format, args...))
}

// Enable enables a debug category
func Enable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = true
	categoryMu.Unlock()
}

// Disable disables a debug category
func Disable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = false
	categoryMu.Unlock()
}

// IsEnabled returns whether a category is enabled
func IsEnabled(cat Category) bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	return enabledCategories[cat]
}

// EnableAll enables all debug categories including verbose ones
func EnableAll() {
	categoryMu.Lock()
	for cat := range enabledCategories {
		enabledCategories[cat] = true
	}
	categoryMu.Unlock()
}

// DisableAll disables all debug categories
func DisableAll() {
	categoryMu.Lock()
	for cat := range enabledCategories {
		enabledCategories[cat] = false
	}
	categoryMu.Unlock()
}
