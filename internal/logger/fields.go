package logger

import "log/slog"

// Typed attribute helpers for the log keys used across gridstore. Keeping
// them here keeps field names consistent between the scheduler, the
// registry, and the client proxy.

// StorageName is the registered name of a storage backend.
func StorageName(name string) slog.Attr {
	return slog.String("storage", name)
}

// ExtensionKey is a scheduler extension key.
func ExtensionKey(key string) slog.Attr {
	return slog.String("extension", key)
}

// TrialID identifies a trial.
func TrialID(id int64) slog.Attr {
	return slog.Int64("trial_id", id)
}

// Err wraps an error value for logging.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}
