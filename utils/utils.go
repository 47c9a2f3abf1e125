package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/common-nighthawk/go-figure"
	gnet "github.com/shirou/gopsutil/v3/net"
)

func BackendURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

// CommandExists reports whether cmd resolves through PATH, or as a path.
func CommandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// ExeDir is the directory holding the running executable, or the working
// directory when that cannot be determined.
func ExeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return CWD()
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func CWD() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// IsPortInUse reports whether something on this host listens on port.
func IsPortInUse(port int) bool {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port {
			return true
		}
	}
	return false
}

// OpenBrowser hands url to the desktop's default handler.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Banner renders name as ASCII art.
func Banner(name string) string {
	return figure.NewFigure(name, "", false).String()
}

// MaskSecret keeps the first and last characters of s and hides the rest.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
