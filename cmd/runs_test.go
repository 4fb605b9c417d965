package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []store.Run{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Params:       store.RunParams{Mode: model.ModeWalk, NClosest: 3, Zones: []string{"ZONE A", "ZONE B"}},
			Status:       store.RunStatusComplete,
			BlockGroups:  540,
			Inaccessible: 12,
			CreatedAt:    now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Params:    store.RunParams{Mode: model.ModeTransit, NClosest: 1},
			Status:    store.RunStatusRunning,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "MODE")
	assert.Contains(t, output, "NO_ACCESS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "ZONE A,ZONE B")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "540")
	assert.Contains(t, output, "transit")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
}

func TestFormatRun(t *testing.T) {
	run := &store.Run{
		ID:             "abc12345-6789-0000-0000-000000000000",
		Params:         store.RunParams{Mode: model.ModeDrive, NClosest: 1},
		Status:         store.RunStatusComplete,
		BlockGroups:    10,
		Inaccessible:   2,
		ActiveShelters: 4,
		Excluded:       1,
	}
	totals := []store.ShelterTotal{
		{ObjectID: 12, Population: 4200},
		{ObjectID: 7, Excluded: true},
	}

	var buf bytes.Buffer
	formatRun(&buf, run, totals)

	output := buf.String()
	assert.Contains(t, output, "drive")
	assert.Regexp(t, `Excluded zones:\s+-\n`, output)
	assert.Regexp(t, `Without access:\s+2\n`, output)
	assert.Contains(t, output, "SHELTER")
	assert.Contains(t, output, "4200")
	assert.Contains(t, output, "unsafe")
}

func TestFormatRun_NoTotals(t *testing.T) {
	var buf bytes.Buffer
	formatRun(&buf, &store.Run{ID: "x", Status: store.RunStatusRunning}, nil)
	assert.NotContains(t, buf.String(), "SHELTER")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
