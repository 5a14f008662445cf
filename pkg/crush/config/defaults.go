// Package config provides configuration management for the crush image optimizer.
package config

import "time"

// Default configuration values for crush.
const (
	// DefaultPNGTool is the lossless PNG optimizer binary.
	DefaultPNGTool = "optipng"

	// DefaultJPEGTool is the lossless JPEG optimizer binary.
	DefaultJPEGTool = "jpegoptim"

	// DefaultToolTimeout bounds a single optimizer invocation.
	DefaultToolTimeout = 5 * time.Minute

	// DefaultHashAlgorithm is the content digest used for change detection.
	DefaultHashAlgorithm = "md5"

	// DefaultManifestBackend is the manifest storage format.
	DefaultManifestBackend = "json"

	// DefaultManifestFile is the manifest filename under StateDir.
	DefaultManifestFile = "rev-manifest.json"

	// DefaultRetentionDays is the default number of days to retain run history.
	DefaultRetentionDays = 30

	// DefaultWatchDebounce is the quiet period before a watch-triggered run.
	DefaultWatchDebounce = 2 * time.Second
)

// DefaultDirs is the directory list used when nothing is configured.
var DefaultDirs = []string{}
