package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUniqueFilePath(t *testing.T) {
	tmpDir := t.TempDir()

	createFile := func(name string) {
		path := filepath.Join(tmpDir, name)
		_ = os.MkdirAll(filepath.Dir(path), 0o755)
		if err := os.WriteFile(path, []byte("test"), 0o644); err != nil {
			t.Fatalf("Failed to create file %s: %v", path, err)
		}
	}

	tests := []struct {
		name     string
		existing []string
		input    string
		want     string
	}{
		{
			name:  "No conflict",
			input: filepath.Join(tmpDir, "file.txt"),
			want:  filepath.Join(tmpDir, "file.txt"),
		},
		{
			name:     "One conflict",
			existing: []string{"file.txt"},
			input:    filepath.Join(tmpDir, "file.txt"),
			want:     filepath.Join(tmpDir, "file(1).txt"),
		},
		{
			name:     "Two conflicts",
			existing: []string{"file.txt", "file(1).txt"},
			input:    filepath.Join(tmpDir, "file.txt"),
			want:     filepath.Join(tmpDir, "file(2).txt"),
		},
		{
			name:     "Conflict with existing numbered file",
			existing: []string{"image(2).png"},
			input:    filepath.Join(tmpDir, "image(2).png"),
			want:     filepath.Join(tmpDir, "image(3).png"),
		},
		{
			name:     "Nested directory retention",
			existing: []string{"subdir/notes.txt"},
			input:    filepath.Join(tmpDir, "subdir", "notes.txt"),
			want:     filepath.Join(tmpDir, "subdir", "notes(1).txt"),
		},
		{
			name:     "No extension",
			existing: []string{"README"},
			input:    filepath.Join(tmpDir, "README"),
			want:     filepath.Join(tmpDir, "README(1)"),
		},
		{
			name:     "Only last extension counts",
			existing: []string{"archive.tar.gz"},
			input:    filepath.Join(tmpDir, "archive.tar.gz"),
			want:     filepath.Join(tmpDir, "archive.tar(1).gz"),
		},
		{
			name:     "Locked destination",
			existing: []string{"download.bin" + LockSuffix},
			input:    filepath.Join(tmpDir, "download.bin"),
			want:     filepath.Join(tmpDir, "download(1).bin"),
		},
		{
			name:     "File and locked sibling",
			existing: []string{"video.mp4", "video(1).mp4" + LockSuffix},
			input:    filepath.Join(tmpDir, "video.mp4"),
			want:     filepath.Join(tmpDir, "video(2).mp4"),
		},
		{
			name:     "Hidden file",
			existing: []string{".gitignore"},
			input:    filepath.Join(tmpDir, ".gitignore"),
			want:     filepath.Join(tmpDir, "(1).gitignore"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, f := range tt.existing {
				createFile(f)
			}
			defer func() {
				for _, f := range tt.existing {
					_ = os.Remove(filepath.Join(tmpDir, f))
				}
			}()

			if got := UniqueFilePath(tt.input); got != tt.want {
				t.Errorf("UniqueFilePath() = %v, want %v", got, tt.want)
			}
		})
	}
}
