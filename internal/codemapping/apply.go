package codemapping

import "strings"

// MappingConfig is a stored mapping in the shape needed at runtime.
type MappingConfig struct {
	ID                     int64         `json:"id"`
	StackRoot              string        `json:"stack_root"`
	SourceRoot             string        `json:"source_root"`
	Repo                   RepoAndBranch `json:"repo"`
	AutomaticallyGenerated bool          `json:"automatically_generated"`
}

// PrecedenceKey implements PathConfig.
func (c MappingConfig) PrecedenceKey() (string, bool) {
	return c.StackRoot, c.AutomaticallyGenerated
}

// SourceLocation is a frame resolved to a file inside a repository.
type SourceLocation struct {
	Repo       RepoAndBranch `json:"repo"`
	SourcePath string        `json:"source_path"`
	ConfigID   int64         `json:"config_id"`
}

// FramePath returns the path a frame is matched against at runtime: the
// module-derived path on module platforms, otherwise the reported filename
// (or abs_path when the filename is missing).
func (x *Extractor) FramePath(frame Frame, platform string) (string, bool) {
	if x.IsModulePlatform(platform) {
		if frame.Module == "" || frame.AbsPath == "" {
			return "", false
		}
		_, filePath, err := GetPathFromModule(frame.Module, frame.AbsPath)
		if err != nil || filePath == "" {
			return "", false
		}
		return filePath, true
	}
	if frame.Filename != "" {
		return frame.Filename, true
	}
	if frame.AbsPath != "" {
		return frame.AbsPath, true
	}
	return "", false
}

// Apply resolves frame with the first config whose stack root prefixes the
// frame path. configs must already be ordered by SortConfigs.
func (x *Extractor) Apply(configs []MappingConfig, frame Frame, platform string) (SourceLocation, bool) {
	framePath, ok := x.FramePath(frame, platform)
	if !ok {
		return SourceLocation{}, false
	}
	for _, cfg := range configs {
		if !strings.HasPrefix(framePath, cfg.StackRoot) {
			continue
		}
		src := strings.Replace(framePath, cfg.StackRoot, cfg.SourceRoot, 1)
		return SourceLocation{
			Repo:       cfg.Repo,
			SourcePath: strings.ReplaceAll(src, `\`, "/"),
			ConfigID:   cfg.ID,
		}, true
	}
	return SourceLocation{}, false
}

// ApplyConfigs is Apply with DefaultModulePlatforms.
func ApplyConfigs(configs []MappingConfig, frame Frame, platform string) (SourceLocation, bool) {
	return defaultExtractor.Apply(configs, frame, platform)
}
