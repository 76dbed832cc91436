package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/chat counter.
var Stats = &stats{}

type stats struct {
	EnvelopesSent atomic.Int64 // relay frames written since process start
	EnvelopesRecv atomic.Int64 // relay frames read since process start
	BytesSent     atomic.Int64 // cumulative bytes written to the DataChannel
	BytesRecv     atomic.Int64 // cumulative bytes read from the DataChannel
}

func (s *stats) AddEnvelopeSent() { s.EnvelopesSent.Add(1) }
func (s *stats) AddEnvelopeRecv() { s.EnvelopesRecv.Add(1) }
func (s *stats) AddSent(n int)    { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval whenever something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevEnvOut, prevEnvIn int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				envOut := Stats.EnvelopesSent.Load()
				envIn := Stats.EnvelopesRecv.Load()

				if sent != prevSent || recv != prevRecv || envOut != prevEnvOut || envIn != prevEnvIn {
					pterm.DefaultLogger.Debug(formatStats(
						float64(sent-prevSent), float64(recv-prevRecv),
						envOut-prevEnvOut, envIn-prevEnvIn,
					))
				}

				prevSent = sent
				prevRecv = recv
				prevEnvOut = envOut
				prevEnvIn = envIn

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the traffic since the last report.
func formatStats(out, in float64, envOut, envIn int64) string {
	return fmt.Sprintf("Chat: %s↑ %s↓ | Relay: %2d↑ %2d↓",
		formatBytes(out),
		formatBytes(in),
		envOut,
		envIn,
	)
}
