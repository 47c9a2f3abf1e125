package encoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/utils"
)

const (
	DefaultBinary      = "ffmpeg"
	DefaultDownloadURL = "https://ffmpeg.org/download.html"

	probeTimeout = 5 * time.Second
)

var ErrNotFound = errors.New("ffmpeg not found")

var logger = log.NewLogger("encoder", log.Component)

type Info struct {
	Binary  string
	Version string
	Banner  string
}

// Probe runs "<binary> -version". Nothing beyond the binary answering is
// checked.
func Probe(ctx context.Context, binary string) (Info, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	if !utils.CommandExists(binary) {
		logger.Warnf("%s not found on PATH", binary)
		return Info{Binary: binary}, fmt.Errorf("%w: %s is not on PATH", ErrNotFound, binary)
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		logger.Warnf("%s -version failed: %v", binary, err)
		return Info{Binary: binary}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	banner := firstLine(string(out))
	info := Info{Binary: binary, Version: ParseVersion(banner), Banner: banner}
	logger.Infof("found %s version %s", binary, info.Version)
	return info, nil
}

// ParseVersion extracts X from "ffmpeg version X Copyright ...".
func ParseVersion(line string) string {
	fields := strings.Fields(line)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
