package core

import (
	"os"
	"path/filepath"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Getwd tries to find the project root (the directory holding go.mod).
// go-test changes the working directory to the test package being run during tests,
// so we walk up from there. Falls back to the current directory when no root is found
// (eg. a deployed binary).
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
