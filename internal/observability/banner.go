package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu serialises all terminal output so a status line is never split by
// a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns a stderr writer that shares the terminal lock with
// the status line.
func NewTermWriter() io.Writer {
	return termWriter{}
}

func PrintBanner(w io.Writer) {
	banner := `
     _                     _
 ___| |_ ___ _ __ _      _(_)___  ___
/ __| __/ _ \ '_ \ \ /\ / / / __|/ _ \
\__ \ ||  __/ |_) \ V  V /| \__ \  __/
|___/\__\___| .__/ \_/\_/ |_|___/\___|
            |_|
      >> SEQUENTIAL PLAN EXECUTION <<
`
	width := termWidth()
	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
	}
}

// StatusLine renders the current global status as one line. frame selects
// the radar animation frame.
func StatusLine(frame int) string {
	role, planID, task, updated := GetStatus()

	radar := " "
	roleColor := colorReset
	if role != RoleIdle {
		radar = radarFrames[frame%len(radarFrames)]
		roleColor = colorNeonMag
	}

	if task == "" {
		task = "Waiting..."
	}
	if r := []rune(task); len(r) > 40 {
		task = string(r[:37]) + "..."
	}

	return fmt.Sprintf("%s[%s] %s%-8s%s %s%s%s plan=%s task=%q uptime=%v",
		colorReset,
		updated.Format("15:04:05"),
		roleColor, role, colorReset,
		colorPurple, radar, colorReset,
		planID, task,
		time.Since(startTime).Round(time.Second),
	)
}

// PrintLiveStatus rewrites the current terminal line with the status.
func PrintLiveStatus(frame int) {
	line := StatusLine(frame)
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Fprint(os.Stderr, "\r\033[K"+line)
}
