package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/capture"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/security"
	"github.com/banshee-data/splatcapture/internal/trajectory"
	"github.com/banshee-data/splatcapture/internal/units"
)

// DefaultConfigPath is the path to the checked-in capture defaults file.
const DefaultConfigPath = "config/capture.defaults.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CaptureConfig is the on-disk description of a capture session. Every
// field is optional; the Get* methods supply the default for a missing one,
// so partial files are safe.
type CaptureConfig struct {
	OutputDir *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	// OutputRoots, when set, confines OutputDir to one of these directories.
	OutputRoots []string `json:"output_roots,omitempty" yaml:"output_roots,omitempty"`
	SessionName *string  `json:"session_name,omitempty" yaml:"session_name,omitempty"`
	Convention  *string  `json:"convention,omitempty" yaml:"convention,omitempty"`
	Format      *string  `json:"format,omitempty" yaml:"format,omitempty"` // "text" or "binary"
	Workers     *int     `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Camera
	ImageWidth  *int     `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight *int     `json:"image_height,omitempty" yaml:"image_height,omitempty"`
	FieldOfView *float64 `json:"field_of_view,omitempty" yaml:"field_of_view,omitempty"` // horizontal, degrees

	// Trajectory
	Trajectory      *string     `json:"trajectory,omitempty" yaml:"trajectory,omitempty"`
	Center          *[3]float64 `json:"center,omitempty" yaml:"center,omitempty"`
	Radius          *float64    `json:"radius,omitempty" yaml:"radius,omitempty"`
	ViewCount       *int        `json:"view_count,omitempty" yaml:"view_count,omitempty"`
	Rings           *int        `json:"rings,omitempty" yaml:"rings,omitempty"`
	ViewsPerRing    *int        `json:"views_per_ring,omitempty" yaml:"views_per_ring,omitempty"`
	MinElevation    *float64    `json:"min_elevation,omitempty" yaml:"min_elevation,omitempty"`
	MaxElevation    *float64    `json:"max_elevation,omitempty" yaml:"max_elevation,omitempty"`
	StartAzimuth    *float64    `json:"start_azimuth,omitempty" yaml:"start_azimuth,omitempty"`
	RadiusVariation *float64    `json:"radius_variation,omitempty" yaml:"radius_variation,omitempty"`
	StaggerRings    *bool       `json:"stagger_rings,omitempty" yaml:"stagger_rings,omitempty"`
	Turns           *float64    `json:"turns,omitempty" yaml:"turns,omitempty"`
	Stations        *int        `json:"stations,omitempty" yaml:"stations,omitempty"`
	TargetCoverage  *float64    `json:"target_coverage,omitempty" yaml:"target_coverage,omitempty"`

	// Keyframes are the control points of a spline trajectory.
	Keyframes [][3]float64 `json:"keyframes,omitempty" yaml:"keyframes,omitempty"`

	// Depth
	CaptureDepth *bool    `json:"capture_depth,omitempty" yaml:"capture_depth,omitempty"`
	NearPlane    *float64 `json:"near_plane,omitempty" yaml:"near_plane,omitempty"`
	FarPlane     *float64 `json:"far_plane,omitempty" yaml:"far_plane,omitempty"`
	DepthUnits   *string  `json:"depth_units,omitempty" yaml:"depth_units,omitempty"`

	// Images
	ImageFormat *string `json:"image_format,omitempty" yaml:"image_format,omitempty"` // "jpeg" or "png"
	JPEGQuality *int    `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`

	// Exports
	ExportPointCloud   *bool `json:"export_point_cloud,omitempty" yaml:"export_point_cloud,omitempty"`
	ExportSplats       *bool `json:"export_splats,omitempty" yaml:"export_splats,omitempty"`
	PointStride        *int  `json:"point_stride,omitempty" yaml:"point_stride,omitempty"`
	MaxPoints          *int  `json:"max_points,omitempty" yaml:"max_points,omitempty"`
	CoverageReport     *bool `json:"coverage_report,omitempty" yaml:"coverage_report,omitempty"`
	CoverageResolution *int  `json:"coverage_resolution,omitempty" yaml:"coverage_resolution,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadCaptureConfig loads a CaptureConfig from a .json, .yaml or .yml file
// of at most 1MB and validates it.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, errs.Configf("load config", "config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errs.IO("stat config file", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, errs.Configf("load config", "config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errs.IO("read config file", err)
	}

	cfg := &CaptureConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errs.Configf("load config", "failed to parse %s: %v", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics when the file cannot be loaded and is
// intended for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate returns the first hard problem with the config. Advisory
// problems are reported by Warnings instead.
func (c *CaptureConfig) Validate() error {
	if _, err := convention.Lookup(c.GetConvention()); err != nil {
		return err
	}
	if _, err := dataset.ParseFormat(c.GetFormat()); err != nil {
		return err
	}
	if _, err := trajectory.ParseKind(c.GetTrajectory()); err != nil {
		return err
	}
	if w, h := c.GetImageWidth(), c.GetImageHeight(); w <= 0 || h <= 0 {
		return errs.Configf("config", "image size must be positive, got %dx%d", w, h)
	}
	if fov := c.GetFieldOfView(); !(fov > 0 && fov < 180) {
		return errs.Configf("config", "field_of_view must be in (0, 180), got %g", fov)
	}
	if r := c.GetRadius(); !(r > 0) {
		return errs.Configf("config", "radius must be positive, got %g", r)
	}
	if c.GetMinElevation() > c.GetMaxElevation() {
		return errs.Configf("config", "min_elevation %g is above max_elevation %g", c.GetMinElevation(), c.GetMaxElevation())
	}
	if q := c.GetJPEGQuality(); q < 1 || q > 100 {
		return errs.Configf("config", "jpeg_quality must be in [1, 100], got %d", q)
	}
	if _, err := imageExtension(c.GetImageFormat()); err != nil {
		return err
	}
	if u := units.Length(c.GetDepthUnits()); !units.IsValid(u) {
		return errs.Configf("config", "unknown depth_units %q", u)
	}
	if c.GetCaptureDepth() {
		if err := c.DepthParams().Validate(); err != nil {
			return err
		}
	} else if c.GetExportPointCloud() || c.GetExportSplats() {
		return errs.Configf("config", "export_point_cloud and export_splats need capture_depth")
	}
	if c.Workers != nil && *c.Workers < 0 {
		return errs.Configf("config", "workers must not be negative, got %d", *c.Workers)
	}
	if t := c.GetTargetCoverage(); !(t > 0 && t <= 1) {
		return errs.Configf("config", "target_coverage must be in (0, 1], got %g", t)
	}
	return nil
}

// Warnings returns advisory messages about settings that are legal but
// likely to produce a poor dataset. A missing output directory is listed
// here too, although Settings rejects it.
func (c *CaptureConfig) Warnings() []string {
	var warnings []string
	if c.GetOutputDir() == "" {
		warnings = append(warnings, "Output directory not specified")
	}
	w, h := c.GetImageWidth(), c.GetImageHeight()
	if w < 640 || h < 480 {
		warnings = append(warnings, "Resolution below 640x480 may result in poor training quality")
	}
	if w > 4096 || h > 4096 {
		warnings = append(warnings, "Resolution above 4096 may significantly increase capture and training time")
	}
	if conv, err := convention.Lookup(c.GetConvention()); err == nil {
		_, tw := trajectory.ValidateConfig(c.TrajectoryConfig(conv))
		warnings = append(warnings, tw...)
	}
	if fov := c.GetFieldOfView(); fov < 45 || fov > 120 {
		warnings = append(warnings, fmt.Sprintf("Unusual FOV (%.1f). 60-90 recommended for 3DGS.", fov))
	}
	return warnings
}

// CameraModel builds the pinhole camera the config describes.
func (c *CaptureConfig) CameraModel() (camera.Model, error) {
	return camera.FromFOV(1, c.GetImageWidth(), c.GetImageHeight(), c.GetFieldOfView())
}

// TrajectoryConfig builds the trajectory planner input in conv.
func (c *CaptureConfig) TrajectoryConfig(conv convention.Convention) trajectory.Config {
	ctr := c.GetCenter()
	var keyframes []r3.Vec
	for _, k := range c.Keyframes {
		keyframes = append(keyframes, r3.Vec{X: k[0], Y: k[1], Z: k[2]})
	}
	return trajectory.Config{
		Kind:            trajectory.Kind(c.GetTrajectory()),
		Center:          r3.Vec{X: ctr[0], Y: ctr[1], Z: ctr[2]},
		Radius:          c.GetRadius(),
		Count:           c.GetViewCount(),
		Rings:           c.GetRings(),
		ViewsPerRing:    c.GetViewsPerRing(),
		MinElevationDeg: c.GetMinElevation(),
		MaxElevationDeg: c.GetMaxElevation(),
		StartAzimuthDeg: c.GetStartAzimuth(),
		RadiusVariation: c.GetRadiusVariation(),
		Stagger:         c.GetStaggerRings(),
		Turns:           c.GetTurns(),
		Stations:        c.GetStations(),
		Keyframes:       keyframes,
		Convention:      conv,
	}
}

// DepthParams builds the depth linearization parameters. Depth is always
// written in metres.
func (c *CaptureConfig) DepthParams() depth.Params {
	return depth.Params{
		Near:        c.GetNearPlane(),
		Far:         c.GetFarPlane(),
		SourceUnits: units.Length(c.GetDepthUnits()),
		TargetUnits: units.Meter,
	}
}

// Settings resolves the config into capture settings. The output directory
// is made absolute and checked against OutputRoots.
func (c *CaptureConfig) Settings() (capture.Settings, error) {
	if err := c.Validate(); err != nil {
		return capture.Settings{}, err
	}
	out, err := security.ResolveOutputDir(c.GetOutputDir(), c.OutputRoots)
	if err != nil {
		return capture.Settings{}, err
	}
	conv, _ := convention.Lookup(c.GetConvention())
	format, _ := dataset.ParseFormat(c.GetFormat())
	ext, _ := imageExtension(c.GetImageFormat())
	cam, err := c.CameraModel()
	if err != nil {
		return capture.Settings{}, err
	}

	s := capture.Settings{
		Name:           c.GetSessionName(),
		OutputDir:      out,
		Format:         format,
		Convention:     conv,
		Camera:         cam,
		Trajectory:     c.TrajectoryConfig(conv),
		Depth:          c.DepthParams(),
		CaptureDepth:   c.GetCaptureDepth(),
		Workers:        c.GetWorkers(),
		ImageExtension: ext,
		JPEGQuality:    c.GetJPEGQuality(),
		WriteImages:    true,
		PointCloud:     c.GetExportPointCloud(),
		PointStride:    c.GetPointStride(),
		MaxPoints:      c.GetMaxPoints(),
		Splats:         c.GetExportSplats(),
	}
	if s.Trajectory.Kind == trajectory.KindAdaptive {
		s.Adaptive = trajectory.AdaptiveParams{
			TargetCoverage: c.GetTargetCoverage(),
			Coverage:       coverage.Params{Resolution: c.GetCoverageResolution()},
		}
	}
	if c.GetCoverageReport() {
		s.Coverage = &coverage.Params{Resolution: c.GetCoverageResolution()}
	}
	return s, nil
}

func imageExtension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return ".jpg", nil
	case "png":
		return ".png", nil
	}
	return "", errs.Configf("config", "image_format must be jpeg or png, got %q", format)
}

// GetOutputDir returns the output_dir value or the default.
func (c *CaptureConfig) GetOutputDir() string {
	if c.OutputDir == nil {
		return ""
	}
	return *c.OutputDir
}

// GetSessionName returns the session_name value or the default.
func (c *CaptureConfig) GetSessionName() string {
	if c.SessionName == nil {
		return "capture"
	}
	return *c.SessionName
}

// GetConvention returns the convention value or the default.
func (c *CaptureConfig) GetConvention() string {
	if c.Convention == nil {
		return convention.UE5.Name
	}
	return *c.Convention
}

// GetFormat returns the format value or the default.
func (c *CaptureConfig) GetFormat() string {
	if c.Format == nil {
		return "text"
	}
	return *c.Format
}

// GetWorkers returns the workers value or the default.
func (c *CaptureConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // GOMAXPROCS
	}
	return *c.Workers
}

// GetImageWidth returns the image_width value or the default.
func (c *CaptureConfig) GetImageWidth() int {
	if c.ImageWidth == nil {
		return 1920
	}
	return *c.ImageWidth
}

// GetImageHeight returns the image_height value or the default.
func (c *CaptureConfig) GetImageHeight() int {
	if c.ImageHeight == nil {
		return 1080
	}
	return *c.ImageHeight
}

// GetFieldOfView returns the field_of_view value or the default.
func (c *CaptureConfig) GetFieldOfView() float64 {
	if c.FieldOfView == nil {
		return 90
	}
	return *c.FieldOfView
}

// GetTrajectory returns the trajectory value or the default.
func (c *CaptureConfig) GetTrajectory() string {
	if c.Trajectory == nil {
		return string(trajectory.KindOrbital)
	}
	return *c.Trajectory
}

// GetCenter returns the center value or the default.
func (c *CaptureConfig) GetCenter() [3]float64 {
	if c.Center == nil {
		return [3]float64{}
	}
	return *c.Center
}

// GetRadius returns the radius value or the default.
func (c *CaptureConfig) GetRadius() float64 {
	if c.Radius == nil {
		return 500
	}
	return *c.Radius
}

// GetViewCount returns the view_count value or the default.
func (c *CaptureConfig) GetViewCount() int {
	if c.ViewCount == nil {
		return 150
	}
	return *c.ViewCount
}

// GetRings returns the rings value or the default.
func (c *CaptureConfig) GetRings() int {
	if c.Rings == nil {
		return 5
	}
	return *c.Rings
}

// GetViewsPerRing returns the views_per_ring value or the default.
func (c *CaptureConfig) GetViewsPerRing() int {
	if c.ViewsPerRing == nil {
		return 36
	}
	return *c.ViewsPerRing
}

// GetMinElevation returns the min_elevation value or the default.
func (c *CaptureConfig) GetMinElevation() float64 {
	if c.MinElevation == nil {
		return -30
	}
	return *c.MinElevation
}

// GetMaxElevation returns the max_elevation value or the default.
func (c *CaptureConfig) GetMaxElevation() float64 {
	if c.MaxElevation == nil {
		return 60
	}
	return *c.MaxElevation
}

// GetStartAzimuth returns the start_azimuth value or the default.
func (c *CaptureConfig) GetStartAzimuth() float64 {
	if c.StartAzimuth == nil {
		return 0
	}
	return *c.StartAzimuth
}

// GetRadiusVariation returns the radius_variation value or the default.
func (c *CaptureConfig) GetRadiusVariation() float64 {
	if c.RadiusVariation == nil {
		return 0.15
	}
	return *c.RadiusVariation
}

// GetStaggerRings returns the stagger_rings value or the default.
func (c *CaptureConfig) GetStaggerRings() bool {
	if c.StaggerRings == nil {
		return true
	}
	return *c.StaggerRings
}

// GetTurns returns the turns value or the default.
func (c *CaptureConfig) GetTurns() float64 {
	if c.Turns == nil {
		return trajectory.DefaultSpiralTurns
	}
	return *c.Turns
}

// GetStations returns the stations value or the default.
func (c *CaptureConfig) GetStations() int {
	if c.Stations == nil {
		return 1
	}
	return *c.Stations
}

// GetTargetCoverage returns the target_coverage value or the default.
func (c *CaptureConfig) GetTargetCoverage() float64 {
	if c.TargetCoverage == nil {
		return 0.95
	}
	return *c.TargetCoverage
}

// GetCaptureDepth returns the capture_depth value or the default.
func (c *CaptureConfig) GetCaptureDepth() bool {
	if c.CaptureDepth == nil {
		return true
	}
	return *c.CaptureDepth
}

// GetNearPlane returns the near_plane value or the default.
func (c *CaptureConfig) GetNearPlane() float64 {
	if c.NearPlane == nil {
		return depth.DefaultNear
	}
	return *c.NearPlane
}

// GetFarPlane returns the far_plane value or the default.
func (c *CaptureConfig) GetFarPlane() float64 {
	if c.FarPlane == nil {
		return depth.DefaultFar
	}
	return *c.FarPlane
}

// GetDepthUnits returns the depth_units value or the default.
func (c *CaptureConfig) GetDepthUnits() string {
	if c.DepthUnits == nil {
		return string(units.Centimeter)
	}
	return *c.DepthUnits
}

// GetImageFormat returns the image_format value or the default.
func (c *CaptureConfig) GetImageFormat() string {
	if c.ImageFormat == nil {
		return "jpeg"
	}
	return *c.ImageFormat
}

// GetJPEGQuality returns the jpeg_quality value or the default.
func (c *CaptureConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return capture.DefaultJPEGQuality
	}
	return *c.JPEGQuality
}

// GetExportPointCloud returns the export_point_cloud value or the default.
func (c *CaptureConfig) GetExportPointCloud() bool {
	if c.ExportPointCloud == nil {
		return true
	}
	return *c.ExportPointCloud
}

// GetExportSplats returns the export_splats value or the default.
func (c *CaptureConfig) GetExportSplats() bool {
	if c.ExportSplats == nil {
		return true
	}
	return *c.ExportSplats
}

// GetPointStride returns the point_stride value or the default.
func (c *CaptureConfig) GetPointStride() int {
	if c.PointStride == nil {
		return capture.DefaultPointStride
	}
	return *c.PointStride
}

// GetMaxPoints returns the max_points value or the default.
func (c *CaptureConfig) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return capture.DefaultMaxPoints
	}
	return *c.MaxPoints
}

// GetCoverageReport returns the coverage_report value or the default.
func (c *CaptureConfig) GetCoverageReport() bool {
	if c.CoverageReport == nil {
		return false
	}
	return *c.CoverageReport
}

// GetCoverageResolution returns the coverage_resolution value or the default.
func (c *CaptureConfig) GetCoverageResolution() int {
	if c.CoverageResolution == nil {
		return coverage.DefaultResolution
	}
	return *c.CoverageResolution
}
