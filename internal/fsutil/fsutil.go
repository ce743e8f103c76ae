package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var decodableExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

var rawExts = map[string]struct{}{
	".dng": {},
	".nef": {},
	".cr2": {},
	".cr3": {},
	".arw": {},
	".rw2": {},
	".orf": {},
	".pef": {},
	".raf": {},
	".srw": {},
	".x3f": {},
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ListImages returns the image files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImageFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsRAWFile checks if a file is a RAW camera format.
func IsRAWFile(path string) bool {
	_, ok := rawExts[ext(path)]
	return ok
}

// IsImageFile checks if a file is any supported image format, RAW included.
func IsImageFile(path string) bool {
	if _, ok := decodableExts[ext(path)]; ok {
		return true
	}
	return IsRAWFile(path)
}

// IsArchive reports whether path is a 7z archive of input images.
func IsArchive(path string) bool {
	return ext(path) == ".7z"
}

// SeparateRAWAndProcessed separates RAW files from processed images.
func SeparateRAWAndProcessed(files []string) (rawFiles, processedFiles []string) {
	for _, file := range files {
		if IsRAWFile(file) {
			rawFiles = append(rawFiles, file)
		} else if IsImageFile(file) {
			processedFiles = append(processedFiles, file)
		}
	}
	return rawFiles, processedFiles
}
