package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// displayWait bounds how long a fresh Xvfb gets to open its socket.
const displayWait = 5 * time.Second

// display is the Xvfb server that headful Chrome draws on. It lives as
// long as the Chrome process it was started for and is restarted with it
// on recycle.
type display struct {
	name   string
	cmd    *exec.Cmd
	exited chan struct{}
	logger *slog.Logger
}

// socketPath is where Xvfb listens for display name, e.g. ":99".
func socketPath(name string) (string, error) {
	num, ok := strings.CutPrefix(name, ":")
	if i := strings.IndexByte(num, '.'); i >= 0 {
		num = num[:i]
	}
	if !ok || num == "" || strings.Trim(num, "0123456789") != "" {
		return "", fmt.Errorf("browser: bad display %q", name)
	}
	return filepath.Join("/tmp/.X11-unix", "X"+num), nil
}

// startDisplay runs Xvfb on name and waits until its socket accepts
// clients or the process dies.
func startDisplay(name string, logger *slog.Logger) (*display, error) {
	sock, err := socketPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start xvfb on %s: %w", name, err)
	}
	d := &display{name: name, cmd: cmd, exited: make(chan struct{}), logger: logger}
	go func() {
		_ = cmd.Wait()
		close(d.exited)
	}()

	deadline := time.NewTimer(displayWait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(sock); err == nil {
			logger.Info("browser: display up", "display", name, "pid", cmd.Process.Pid)
			return d, nil
		}
		select {
		case <-d.exited:
			return nil, fmt.Errorf("browser: xvfb on %s exited during startup", name)
		case <-deadline.C:
			d.stop()
			return nil, fmt.Errorf("browser: xvfb on %s: no socket after %s", name, displayWait)
		case <-tick.C:
		}
	}
}

// env is the environment Chrome is launched with.
func (d *display) env() []string {
	return append(os.Environ(), "DISPLAY="+d.name)
}

func (d *display) stop() {
	if d == nil {
		return
	}
	select {
	case <-d.exited:
	default:
		_ = d.cmd.Process.Kill()
		<-d.exited
	}
	d.logger.Info("browser: display down", "display", d.name)
}
