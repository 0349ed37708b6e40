package domain

import "errors"

var (
	// ErrEmptyQuery signals a blank search phrase.
	ErrEmptyQuery = errors.New("search query cannot be empty")
	// ErrEngineNotOperational signals an engine that was never initialized or has been shut down.
	ErrEngineNotOperational = errors.New("engine is not operational")
	// ErrNoEnginesAvailable signals that neither the primary nor the backup engine can serve.
	ErrNoEnginesAvailable = errors.New("no operational engines available")
	// ErrUnknownSubsystem signals a restart request for a subsystem that does not exist.
	ErrUnknownSubsystem = errors.New("unknown subsystem")
	// ErrSubsystemUnavailable signals a subsystem that has not been constructed yet.
	ErrSubsystemUnavailable = errors.New("subsystem unavailable")
	// ErrImageQuotaExceeded signals an exhausted daily image API quota.
	ErrImageQuotaExceeded = errors.New("image quota exceeded")
	// ErrBackendUnavailable signals a vector or image backend transport failure.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrNotRunning signals a manager call made outside the Running state.
	ErrNotRunning = errors.New("system manager is not running")
	// ErrImagesNotRefreshed signals a refresh that produced no images.
	ErrImagesNotRefreshed = errors.New("no images fetched")
)
