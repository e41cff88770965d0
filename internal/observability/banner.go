package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorDim      = "\033[2m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorGreen    = "\033[92m"
	colorRed      = "\033[91m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}
var radarIdx = 0

// termMu serializes all terminal output so the live status line is never
// torn by a log write.
var termMu sync.Mutex

// IsTerminal reports whether f is attached to a TTY.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// Rule returns a horizontal line spanning the terminal.
func Rule() string {
	return colorDim + strings.Repeat("─", clamp(termWidth(), 20, 120)) + colorReset
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns a writer whose output is serialized with
// PrintLiveStatus. Pass it as the logger output.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

func PrintBanner() {
	banner := `
   ___  ___ ___ ___   ___ ___ ___ ___   _   ___  ___ _  _
  |   \| __| __| _ \ | _ \ __/ __| __| /_\ | _ \/ __| || |
  | |) | _|| _||  _/ |   / _|\__ \ _| / _ \|   / (__| __ |
  |___/|___|___|_|   |_|_\___|___/___/_/ \_\_|_\\___|_||_|

          >> PLAN . SEARCH . SYNTHESIZE <<
`

	width := termWidth()
	lines := strings.Split(banner, "\n")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// InitializeTerminal reserves the top rows for the banner and status line and
// scrolls logs below them.
func InitializeTerminal() {
	fmt.Print("\033[2J\033[H")
	PrintBanner()
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// StepMark renders a step status glyph for terminal output.
func StepMark(status string) string {
	switch status {
	case "running":
		return colorNeonCyan + "▶" + colorReset
	case "done":
		return colorGreen + "✔" + colorReset
	case "error":
		return colorRed + "✘" + colorReset
	}
	return " "
}

// Bold wraps s in bold escape codes.
func Bold(s string) string {
	return colorBold + s + colorReset
}

func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := GetSnapshot()
	memMB := float64(m.Alloc) / 1024 / 1024

	pulseIcon := "🔴"
	pulseText := "OFFLINE"
	pulseColor := colorNeonMag

	delta := time.Since(snap.LastHeartbeat)
	if delta < 40*time.Second {
		pulseIcon = "🟢"
		pulseText = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulseIcon = "🟡"
		pulseText = "LAGGING"
		pulseColor = colorPurple
	}

	phaseColor := colorReset
	radar := " "
	if snap.Phase != PhaseIdle {
		phaseColor = colorNeonCyan
		radar = radarFrames[radarIdx]
		radarIdx = (radarIdx + 1) % len(radarFrames)
	}

	task := snap.ActiveTask
	if task == "" {
		task = "Waiting..."
	}
	if r := []rune(task); len(r) > 25 {
		task = string(r[:22]) + "..."
	}

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K[%s] %s%s %-8s%s | %s%-11s%s runs:%d/%d [%s] %s%s%s [%s] [%.1fMB]\033[u",
		snap.LastHeartbeat.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		phaseColor, snap.Phase, colorReset,
		snap.ActiveRuns, snap.CompletedRuns,
		task,
		colorPurple, radar, colorReset,
		snap.Uptime,
		memMB,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
