package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger          *slog.Logger
	errorSampleRate int32 = 100 // 1 in N warnings/errors is written (ERROR_SAMPLE_RATE)
	programLevel          = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // nil unless OTEL export is on
)

// Counters for the metrics endpoint. They are incremented regardless of sampling.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64

	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total422Errors atomic.Int64

	Evaluations         atomic.Int64
	Admissions          atomic.Int64
	Rejections          atomic.Int64
	InvalidFormats      atomic.Int64
	LowStockAdvisories  atomic.Int64
	LookupFailures      atomic.Int64
	PolicyReloads       atomic.Int64
	PolicyReloadRejects atomic.Int64
)

func init() {
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = LevelInfo
	}
	programLevel.Set(level)

	// ERROR_SAMPLE_RATE=1 logs every warning and error
	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			atomic.StoreInt32(&errorSampleRate, int32(rate))
		}
	}

	configure(context.Background())
}

// SetOutput replaces the JSON handler's destination. Tests use it to capture logs.
func SetOutput(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// SetSampleRate sets how many warnings/errors are skipped per one written
func SetSampleRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	atomic.StoreInt32(&errorSampleRate, int32(rate))
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level. An empty name is INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

func shouldSample() bool {
	rate := atomic.LoadInt32(&errorSampleRate)
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts every call but only writes a sample
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every call but only writes a sample
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 422:
		Total422Errors.Add(1)
	}
}

// RecordDecision updates the evaluation counters for one engine decision
func RecordDecision(valid, invalidFormat, lowStock bool) {
	Evaluations.Add(1)
	switch {
	case valid:
		Admissions.Add(1)
	case invalidFormat:
		InvalidFormats.Add(1)
		Rejections.Add(1)
	default:
		Rejections.Add(1)
	}
	if lowStock {
		LowStockAdvisories.Add(1)
	}
}

// WarnLookup counts a failed collaborator lookup (stage history, inventory).
// Callers log the failure with Warn, which counts the warning.
func WarnLookup() {
	LookupFailures.Add(1)
}

// RecordReload counts a policy hot-swap attempt
func RecordReload(ok bool) {
	if ok {
		PolicyReloads.Add(1)
		return
	}
	PolicyReloadRejects.Add(1)
}

// Snapshot returns the current counter values keyed by metric name
func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors_total":                TotalErrors.Load(),
		"warnings_total":              TotalWarnings.Load(),
		"http_5xx_total":              Total5xxErrors.Load(),
		"http_4xx_total":              Total4xxErrors.Load(),
		"http_400_total":              Total400Errors.Load(),
		"http_404_total":              Total404Errors.Load(),
		"http_422_total":              Total422Errors.Load(),
		"evaluations_total":           Evaluations.Load(),
		"admissions_total":            Admissions.Load(),
		"rejections_total":            Rejections.Load(),
		"invalid_format_total":        InvalidFormats.Load(),
		"low_stock_advisories_total":  LowStockAdvisories.Load(),
		"lookup_failures_total":       LookupFailures.Load(),
		"policy_reloads_total":        PolicyReloads.Load(),
		"policy_reload_rejects_total": PolicyReloadRejects.Load(),
	}
}
