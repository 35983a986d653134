// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestDefault_UsesInfoLevelAndAleutianService(t *testing.T) {
	logger := Default()
	assert.Equal(t, LevelInfo, logger.config.Level)
	assert.Equal(t, "aleutian", logger.config.Service)
}

// waitForEntries polls exp until it has at least n entries or the timeout
// elapses, since Logger.log exports asynchronously.
func waitForEntries(t *testing.T, exp *BufferedExporter, n int) []LogEntry {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if entries := exp.Entries(); len(entries) >= n {
			return entries
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "timed out waiting for log entries")
	return nil
}

func TestLogger_LevelFiltering_DiscardsBelowThreshold(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelWarn, Service: "debatearena", Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Debug("rag started", "traceId", "t1")
	logger.Info("round completed", "round", 1)
	logger.Warn("auto-score fell back to heuristic", "score", 5)
	logger.Error("synthesis failed", "error", "backend unreachable")

	entries := waitForEntries(t, exp, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, LevelError, entries[1].Level)
}

func TestLogger_Attrs_CarryThroughToExportedEntry(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "debatearena", Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Info("template reindexed", "count", 3, "dir", "./templates")

	entries := waitForEntries(t, exp, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "template reindexed", entries[0].Message)
	assert.Equal(t, "debatearena", entries[0].Service)
	assert.Equal(t, 3, entries[0].Attrs["count"])
	assert.Equal(t, "./templates", entries[0].Attrs["dir"])
}

func TestLogger_With_InheritsConfigAndSharedExporter(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "debatearena", Quiet: true, Exporter: exp})
	defer logger.Close()

	child := logger.With("traceId", "t-42")
	child.Info("round started", "round", 1)

	entries := waitForEntries(t, exp, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "debatearena", entries[0].Service)
}

func TestNew_FileLoggingWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "debatearena", LogDir: dir, Quiet: true})
	defer logger.Close()

	logger.Info("debate completed", "traceId", "t-7", "rounds", 3)
	require.NoError(t, logger.file.Sync())

	filename := "debatearena_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "debate completed", record["msg"])
	assert.Equal(t, "debatearena", record["service"])
	assert.Equal(t, "t-7", record["traceId"])
}

func TestLogger_Close_ClosesFileAndFlushesExporter(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "debatearena", LogDir: t.TempDir(), Quiet: true, Exporter: exp})

	require.NoError(t, logger.Close())
	// A second Close would double-close the file; callers never do this,
	// so Close is only required to succeed once.
}
