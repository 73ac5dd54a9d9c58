// Package doctor collects a health report for the agent runtime: backend
// reachability, sandbox directory state, and host resource headroom.
package doctor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
)

type BackendReport struct {
	Kind      string   `json:"kind"`
	Endpoint  string   `json:"endpoint"`
	Model     string   `json:"model"`
	Reachable bool     `json:"reachable"`
	Models    []string `json:"models,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type HostReport struct {
	Hostname        string  `json:"hostname"`
	Platform        string  `json:"platform"`
	CPUCount        int     `json:"cpu_count"`
	MemoryTotal     uint64  `json:"memory_total"`
	MemoryUsedPct   float64 `json:"memory_used_pct"`
	SandboxDiskFree uint64  `json:"sandbox_disk_free"`
}

type Report struct {
	Backend             BackendReport `json:"backend"`
	Host                HostReport    `json:"host"`
	ScriptDir           string        `json:"script_dir"`
	ScriptDirWritable   bool          `json:"script_dir_writable"`
	ActiveConversations int64         `json:"active_conversations"`
}

type Conversations interface {
	ActiveCount() (int64, error)
}

type Options struct {
	Client        reasoning.Client
	BackendKind   string
	Endpoint      string
	Model         string
	ScriptDir     string
	Conversations Conversations
}

func Collect(ctx context.Context, opts Options) Report {
	report := Report{
		Backend: BackendReport{
			Kind:     opts.BackendKind,
			Endpoint: opts.Endpoint,
			Model:    opts.Model,
		},
		ScriptDir: opts.ScriptDir,
	}

	if opts.Client != nil {
		ping, err := opts.Client.Ping(ctx)
		if err != nil {
			report.Backend.Error = err.Error()
		} else {
			report.Backend.Reachable = ping.Reachable
			report.Backend.Models = ping.Models
		}
	}

	report.ScriptDirWritable = dirWritable(opts.ScriptDir)

	if opts.Conversations != nil {
		if count, err := opts.Conversations.ActiveCount(); err == nil {
			report.ActiveConversations = count
		}
	}

	report.Host = collectHost(ctx, opts.ScriptDir)
	return report
}

func collectHost(ctx context.Context, scriptDir string) HostReport {
	var out HostReport
	if info, err := host.InfoWithContext(ctx); err == nil {
		out.Hostname = info.Hostname
		out.Platform = info.Platform
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.CPUCount = count
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemoryTotal = vm.Total
		out.MemoryUsedPct = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, scriptDir); err == nil {
		out.SandboxDiskFree = usage.Free
	}
	return out
}

func dirWritable(dir string) bool {
	if dir == "" {
		return false
	}
	probe := filepath.Join(dir, ".doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return true
}
