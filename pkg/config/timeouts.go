package config

import "time"

// Common timeout durations used throughout the application.
const (
	// ConnectTimeout bounds the initial backend connection.
	ConnectTimeout = 10 * time.Second

	// StopTimeout bounds coordinator shutdown, including the wait for the
	// heartbeat goroutine to exit.
	StopTimeout = 10 * time.Second

	// ReleaseTimeout for releasing a lock after the guarded call finished.
	ReleaseTimeout = 5 * time.Second
)
