package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/journal"
	"github.com/elee1766/p2prelay/src/shell"
)

const probeTimeout = 5 * time.Second

// HostStatus is the host section of the digest and of GET /status
type HostStatus struct {
	Hostname        string        `json:"hostname"`
	Platform        string        `json:"platform"`
	DiskUsedPercent float64       `json:"disk_used_percent"`
	DiskFree        uint64        `json:"disk_free"`
	Uptime          time.Duration `json:"uptime"`
}

// HostProbe reads the host status
type HostProbe func(ctx context.Context) (HostStatus, error)

// ProbeHost reads disk usage of / and uptime through gopsutil
func ProbeHost(ctx context.Context) (HostStatus, error) {
	var st HostStatus

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read host info: %w", err)
	}
	st.Hostname = info.Hostname
	st.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	st.Uptime = time.Duration(info.Uptime) * time.Second

	usage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return st, fmt.Errorf("failed to read disk usage: %w", err)
	}
	st.DiskUsedPercent = usage.UsedPercent
	st.DiskFree = usage.Free
	return st, nil
}

// DigestConfig configures a Digester
type DigestConfig struct {
	// ReposDir is scanned for git repositories with commits today
	ReposDir string

	// Services are systemd user units whose state is reported
	Services []string

	Journal *journal.Journal
	Host    HostProbe
	Runner  shell.Runner
	Fs      afero.Fs
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Digester builds the daily digest
type Digester struct {
	config DigestConfig
	runner shell.Runner
	fs     afero.Fs
	clock  clock.Clock
	logger *slog.Logger
}

// NewDigester creates a Digester
func NewDigester(config DigestConfig) *Digester {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Host == nil {
		config.Host = ProbeHost
	}
	d := &Digester{
		config: config,
		runner: config.Runner,
		fs:     config.Fs,
		clock:  config.Clock,
		logger: logger.With("component", "digest"),
	}
	if d.runner == nil {
		d.runner = shell.Exec{Logger: logger}
	}
	if d.fs == nil {
		d.fs = afero.NewOsFs()
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	return d
}

// Build renders the digest. Sections are gathered concurrently and each
// degrades to a placeholder line on failure.
func (d *Digester) Build(ctx context.Context) string {
	now := d.clock.Now()

	var system, git, p2p string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		system = d.systemStatus(gctx)
		return nil
	})
	g.Go(func() error {
		git = d.gitActivity(gctx, now)
		return nil
	})
	g.Go(func() error {
		p2p = d.p2pSummary(now)
		return nil
	})
	_ = g.Wait()

	return fmt.Sprintf(`📊 Daily Digest - %s (%s)

🔧 System Status:
%s

📝 Git Aktivität:
%s

🔗 P2P Kommunikation:
%s

---
DONE`, now.Format("02.01.2006"), now.Format("15:04"), system, git, p2p)
}

func (d *Digester) systemStatus(ctx context.Context) string {
	var lines []string

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	st, err := d.config.Host(pctx)
	cancel()
	if err != nil {
		d.logger.Warn("host probe failed", "error", err)
	}
	if st.DiskFree > 0 || st.DiskUsedPercent > 0 {
		lines = append(lines, fmt.Sprintf("  Disk: %.0f%% belegt (%s frei)", st.DiskUsedPercent, humanize.IBytes(st.DiskFree)))
	}
	if st.Uptime > 0 {
		lines = append(lines, fmt.Sprintf("  Uptime: %dh", int(st.Uptime.Hours())))
	}

	var running []string
	for _, svc := range d.config.Services {
		res, err := d.runner.Run(ctx, shell.Command{
			Name:    "systemctl",
			Args:    []string{"--user", "is-active", svc},
			Timeout: probeTimeout,
		})
		if err != nil || strings.TrimSpace(res.Output) != "active" {
			continue
		}
		running = append(running, strings.TrimSuffix(svc, ".timer"))
	}
	if len(running) > 0 {
		lines = append(lines, "  Services: "+strings.Join(running, ", "))
	}

	if len(lines) == 0 {
		return "  Status nicht verfügbar"
	}
	return strings.Join(lines, "\n")
}

func (d *Digester) gitActivity(ctx context.Context, now time.Time) string {
	const none = "  Keine Git-Aktivität heute"
	if d.config.ReposDir == "" {
		return none
	}

	entries, err := afero.ReadDir(d.fs, d.config.ReposDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to list repositories", "error", err)
		}
		return none
	}

	var lines []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(d.config.ReposDir, e.Name())
		if ok, _ := afero.DirExists(d.fs, filepath.Join(dir, ".git")); !ok {
			continue
		}

		res, err := d.runner.Run(ctx, shell.Command{
			Name:    "git",
			Args:    []string{"log", "--oneline", "--since=" + now.Format("2006-01-02"), "--pretty=format:%s"},
			Dir:     dir,
			Timeout: probeTimeout,
		})
		if err != nil || !res.OK() {
			continue
		}
		out := strings.TrimSpace(res.Output)
		if out == "" {
			continue
		}

		commits := strings.Split(out, "\n")
		lines = append(lines, fmt.Sprintf("  %s: %d commits", e.Name(), len(commits)))
		for _, c := range commits[:min(3, len(commits))] {
			lines = append(lines, "    - "+clipRunes(c, 60))
		}
	}

	if len(lines) == 0 {
		return none
	}
	return strings.Join(lines, "\n")
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (d *Digester) p2pSummary(now time.Time) string {
	if !d.config.Journal.Exists() {
		return "  Keine P2P-Aktivität"
	}
	n, err := d.config.Journal.CountOn(now)
	if err != nil {
		d.logger.Warn("failed to read exchange journal", "error", err)
		return "  P2P-Log nicht lesbar"
	}
	return fmt.Sprintf("  %d Exchanges heute", n)
}
