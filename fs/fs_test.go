package appfs

import (
	"io/fs"
	"testing"
)

func TestFS(t *testing.T) {
	files := []string{
		"migrations/20210110092636_init.sql",
		"templates/email/_base.txt",
		"templates/email/_base.gohtml",
		"templates/email/course_unlocked.txt",
		"templates/email/course_unlocked.gohtml",
	}
	for _, name := range files {
		t.Run(name, func(t *testing.T) {
			if _, err := fs.Stat(FS, name); err != nil {
				t.Errorf("%s is not embedded: %v", name, err)
			}
		})
	}
}
