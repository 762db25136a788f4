package config

import "time"

// Server defaults
const (
	DefaultPort            = 8080
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	RequestTimeout         = 60 * time.Second
)

// Loader limits
const (
	DefaultTableCacheSize = 8
	LoadContextCheckRows  = 1000
	MaxReportedRowErrors  = 100
	MaxImportBytes        = 64 << 20 // uploaded sources
)

// Cache defaults
const (
	DefaultViewCacheSize     = 256
	DefaultForecastCacheSize = 256
	DefaultViewCacheTTL      = 30 * time.Minute
	DefaultPersistMaxMemory  = 48
	BadgerGCInterval         = 10 * time.Minute
	BadgerGCDiscardRatio     = 0.5
	BadgerGCMaxRetries       = 3
	BadgerGCRetryDelay       = 30 * time.Second // doubles per retry
)

// Forecast defaults and limits
const (
	DefaultHorizonDays   = 7
	MaxHorizonDays       = 31
	DefaultIntervalWidth = 0.8
)

// Scatter sample defaults
const (
	DefaultSampleSize = 2000
	MaxSampleSize     = 20000
	DefaultSampleSeed = 42
)

// Logging defaults
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
