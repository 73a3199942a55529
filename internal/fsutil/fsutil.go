package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the source formats the decoders read. The camera raw
// formats need the ImageMagick decoder.
var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".hdr":  {},
	".dng":  {},
	".nef":  {},
	".cr2":  {},
	".arw":  {},
}

var rawExts = map[string]struct{}{
	".dng": {},
	".nef": {},
	".cr2": {},
	".arw": {},
}

// ListImages returns the image files directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsRAWFile checks if a file is a RAW camera format.
func IsRAWFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isRaw := rawExts[ext]
	return isRaw
}

// IsImageFile checks if a file is any supported image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// OutputBase returns the output prefix for a project: prefix when given,
// otherwise the project path without its extension.
func OutputBase(project, prefix string) string {
	if prefix != "" {
		return prefix
	}
	return strings.TrimSuffix(project, filepath.Ext(project))
}

// ResolveRelative interprets name relative to the directory of project
// unless it is absolute.
func ResolveRelative(project, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(project), name)
}
