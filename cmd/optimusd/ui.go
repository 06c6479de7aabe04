package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/resource"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysview"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	badColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	labelColor = color.New(color.FgWhite, color.Bold)

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
)

func printInvalid(path string) {
	badColor.Printf("invalid profile: %s\n", path)
}

func printValid(path string) {
	okColor.Printf("valid profile: %s\n", path)
}

func printProfile(p *model.OptimizationProfile) {
	fmt.Println(headerStyle.Render(p.LogStr()))

	row := func(label, value string) {
		labelColor.Printf("  %-16s", label)
		fmt.Println(value)
	}

	if p.CPU.IsValid() {
		row("cpu.performance", fmt.Sprintf("%v", *p.CPU.Performance))
	}
	if p.GPU.IsValid() {
		row("gpu.performance", fmt.Sprintf("%v", *p.GPU.Performance))
	}
	if p.Steam != nil {
		row("steam", fmt.Sprintf("%v", *p.Steam))
	}
	if p.HideMouse != nil {
		row("hide_mouse", fmt.Sprintf("%v", *p.HideMouse))
	}
	if p.Compositor.IsValid() {
		row("compositor.off", fmt.Sprintf("%v", *p.Compositor.Off))
	}
	if p.Process != nil {
		if len(p.Process.CPUAffinity) > 0 {
			row("cpu_affinity", fmt.Sprintf("%v", p.Process.CPUAffinity))
		}
		if p.Process.Nice != nil {
			row("nice", "configured")
		}
		if p.Process.Scheduling != nil {
			row("scheduling", "configured")
		}
		if p.Process.IO != nil {
			row("io_scheduling", "configured")
		}
	}
	if p.Launcher.IsValid() {
		row("launcher", fmt.Sprintf("%d mapping(s)", len(p.Launcher.Mapping)))
	}
	if p.AfterScripts.IsValid() {
		row("after_scripts", fmt.Sprintf("%d script(s)", len(p.AfterScripts.Scripts)))
	}
	if p.FinishScripts.IsValid() {
		row("finish_scripts", fmt.Sprintf("%d script(s)", len(p.FinishScripts.Scripts)))
	}
	if p.StopAfter.IsValid() {
		row("stop_after", fmt.Sprintf("%d process(es)", len(p.StopAfter.Processes)))
	}
}

func printCapabilities() error {
	fmt.Println(headerStyle.Render("host capabilities"))

	snap, err := sysview.Capture(200 * time.Millisecond)
	if err != nil {
		return fmt.Errorf("reading host facts: %w", err)
	}
	labelColor.Printf("  %-16s", "cpus")
	fmt.Println(snap.CPUCount)
	labelColor.Printf("  %-16s", "memory used")
	fmt.Printf("%.1f%%\n", snap.MemoryUsed)
	labelColor.Printf("  %-16s", "live processes")
	fmt.Println(snap.LiveProcesses)

	log := zerolog.New(io.Discard)

	fmt.Println()
	fmt.Println("gpu drivers:")
	for _, vendor := range []string{"nvidia", "amd"} {
		driver := resource.GetDriverByVendor(vendor, log)
		if driver == nil {
			continue
		}
		if ok, reason := driver.CanWork(); ok {
			okColor.Printf("  %-10s available\n", driver.VendorName())
		} else {
			warnColor.Printf("  %-10s unavailable (%s)\n", driver.VendorName(), reason)
		}
	}

	fmt.Println("window compositors:")
	for _, name := range []string{"kwin", "xfwm4", "marco", "picom", "compton", "compiz", "nvidia"} {
		c := resource.GetWindowCompositorByName(name, log)
		if c == nil {
			continue
		}
		if ok, reason := c.CanBeManaged(); ok {
			okColor.Printf("  %-10s manageable\n", c.Name())
		} else {
			warnColor.Printf("  %-10s not manageable (%s)\n", c.Name(), reason)
		}
	}

	return nil
}

const systemdUnitPath = "/etc/systemd/system/optimusd.service"

const systemdUnitTemplate = `[Unit]
Description=Per-process performance optimizer daemon
After=multi-user.target

[Service]
Type=simple
ExecStart=/usr/bin/optimusd serve
Restart=on-failure

[Install]
WantedBy=multi-user.target
`

func installService() error {
	bar := progressbar.NewOptions(3,
		progressbar.OptionSetDescription("installing optimusd.service"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	if err := os.WriteFile(systemdUnitPath, []byte(systemdUnitTemplate), 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	bar.Add(1)

	if err := runSystemctl(context.Background(), "daemon-reload"); err != nil {
		return err
	}
	bar.Add(1)

	if err := runSystemctl(context.Background(), "enable", "--now", "optimusd.service"); err != nil {
		return err
	}
	bar.Add(1)

	fmt.Println()
	okColor.Println("optimusd.service installed and started")
	return nil
}

func uninstallService() error {
	bar := progressbar.NewOptions(2,
		progressbar.OptionSetDescription("removing optimusd.service"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	_ = runSystemctl(context.Background(), "disable", "--now", "optimusd.service")
	bar.Add(1)

	if err := os.Remove(systemdUnitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	bar.Add(1)

	fmt.Println()
	okColor.Println("optimusd.service removed")
	return nil
}

func runSystemctl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

