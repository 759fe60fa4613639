package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splatcapture/internal/manifest"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

func quiet(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	log.SetOutput(io.Discard)
	t.Cleanup(func() {
		monitoring.SetLogger(log.Printf)
		log.SetOutput(os.Stderr)
	})
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// smallCapture is a 12-view binary capture of a 1 m sphere at 64x48.
const smallCapture = `
session_name: cli test
format: binary
image_width: 64
image_height: 48
field_of_view: 90
trajectory: spherical
view_count: 12
radius: 500
min_elevation: -90
max_elevation: 90
coverage_report: true
coverage_resolution: 8
workers: 2
`

func TestRunCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.Contains(t, out.String(), "splatcapture version dev")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	assert.Contains(t, out.String(), "Usage: splatcapture <command>")

	tests := [][]string{
		nil,
		{"frobnicate"},
		{"plan", "--bogus"},
		{"validate"},
		{"sessions"},
		{"capture"},
	}
	for _, args := range tests {
		err := run(context.Background(), args, io.Discard)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

func TestPlanCommand(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "plan.yaml", "trajectory: spherical\nview_count: 60\nradius: 500\n")
	poses := filepath.Join(dir, "poses.json")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"plan", "--config", cfg, "--json", poses}, &out))
	assert.Contains(t, out.String(), "trajectory: spherical (ue5)")
	assert.Contains(t, out.String(), "views:      60")

	data, err := os.ReadFile(poses)
	require.NoError(t, err)
	var records []poseRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 60)
	for _, r := range records {
		p := r.Position
		assert.InDelta(t, 500, math.Sqrt(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]), 1e-6)
		q := r.Rotation
		assert.InDelta(t, 1, q[0]*q[0]+q[1]*q[1]+q[2]*q[2]+q[3]*q[3], 1e-9)
	}
}

func TestCoverageCommand(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "coverage.yaml", "trajectory: spherical\nview_count: 40\nradius: 500\n")
	report := filepath.Join(dir, "report")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"coverage", "--config", cfg, "--out", report, "--resolution", "8"}, &out))
	assert.Contains(t, out.String(), "voxels:       8^3")
	assert.Contains(t, out.String(), "wrote 2 plots")
	for _, name := range []string{"coverage.html", "coverage_history.png", "coverage_histogram.png"} {
		assert.FileExists(t, filepath.Join(report, name))
	}
}

func TestCaptureValidateSessions(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "capture.yaml", smallCapture)
	dataDir := filepath.Join(dir, "dataset")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"capture", "--config", cfg, "--out", dataDir}, &out))
	assert.Contains(t, out.String(), "frames:     12 (12 depth maps)")
	for _, name := range []string{
		"sparse/0/cameras.bin", "sparse/0/images.bin", "sparse/0/points3D.bin", "sparse/0/points3D.ply",
		"splats.ply", "coverage.html", "manifest.db", "images/image_00000.jpg",
	} {
		assert.FileExists(t, filepath.Join(dataDir, name))
	}

	out.Reset()
	require.NoError(t, run(ctx, []string{"validate", dataDir}, &out))
	assert.Contains(t, out.String(), "valid binary dataset, 1 cameras, 12 images")

	out.Reset()
	require.NoError(t, run(ctx, []string{"sessions", "--manifest", filepath.Join(dataDir, "manifest.db"), "--json"}, &out))
	var sessions []manifest.Session
	require.NoError(t, json.Unmarshal(out.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, manifest.StatusComplete, sessions[0].Status)
	assert.Equal(t, "cli_test", sessions[0].Name)
	assert.Equal(t, 12, sessions[0].FrameCount)

	out.Reset()
	require.NoError(t, run(ctx, []string{"sessions", "--manifest", filepath.Join(dataDir, "manifest.db")}, &out))
	assert.Contains(t, out.String(), "1 sessions")

	out.Reset()
	require.NoError(t, run(ctx, []string{"sessions", "--manifest", filepath.Join(dataDir, "manifest.db"), "--delete", sessions[0].ID}, &out))
	assert.Contains(t, out.String(), "deleted session "+sessions[0].ID)
	assert.Contains(t, out.String(), "0 sessions")
}

func TestValidateRejectsEmptyDirectory(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"validate", t.TempDir()}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Missing cameras file")

	err = run(context.Background(), []string{"sessions", "--manifest", filepath.Join(t.TempDir(), "none.db")}, io.Discard)
	assert.Error(t, err)
}
