package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// LockSuffix marks a destination another download is writing to.
const LockSuffix = ".lock"

var numbered = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// UniqueFilePath returns path, or the first "name(N).ext" sibling that is
// neither on disk nor locked by a running download.
func UniqueFilePath(path string) string {
	if !taken(path) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	n := 1
	if m := numbered.FindStringSubmatch(base); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil {
			base = m[1]
			n = v + 1
		}
	}

	for ; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, n, ext))
		if !taken(candidate) {
			return candidate
		}
	}
}

func taken(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	_, err := os.Stat(path + LockSuffix)
	return err == nil
}
