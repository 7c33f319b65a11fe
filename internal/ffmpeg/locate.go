package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
)

// locateTool resolves one of the ffmpeg tools to an executable path.
// The env override wins, then a sibling binary in the working
// directory, then PATH. An override that is missing or not executable
// falls through instead of failing, so a stale VISUS_FFMPEG_BINARY
// does not break a host that has ffmpeg installed normally.
func locateTool(tool, envVar string) (string, error) {
	if override := os.Getenv(envVar); override != "" && runnable(override) {
		return override, nil
	}
	if local := "./" + tool; runnable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(tool); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s not found (set %s or install it on PATH)", tool, envVar)
}

// runnable reports whether path is a regular file with an executable
// bit set.
func runnable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
