// Package linux provides cgroup v2 resource management.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/cgroups/v3/cgroup2"

	"nsrun/spec"
)

const cgroupRoot = "/sys/fs/cgroup"

// UseSystemdDriver selects the systemd-managed cgroup driver (dbus-registered
// transient scopes) instead of direct cgroupfs management. It is set once at
// startup from the --systemd-cgroup CLI flag.
var UseSystemdDriver bool

// Cgroup represents a cgroup v2 control group, backed by containerd's
// cgroup2.Manager rather than hand-rolled controller-file writes.
type Cgroup struct {
	path string
	mgr  *cgroup2.Manager
}

// NewCgroup creates or opens a cgroup at the given path.
// Path should be relative to /sys/fs/cgroup (e.g., "nsrun/container-id"),
// unless UseSystemdDriver is set, in which case it is interpreted as a
// "slice:prefix:name" triple per the systemd cgroup driver convention
// (e.g. "system.slice:nsrun:container-id").
func NewCgroup(cgroupPath string) (*Cgroup, error) {
	if UseSystemdDriver {
		return newSystemdCgroup(cgroupPath)
	}

	group := "/" + strings.TrimPrefix(cgroupPath, "/")

	mgr, err := cgroup2.NewManager(cgroupRoot, group, &cgroup2.Resources{})
	if err != nil {
		return nil, fmt.Errorf("create cgroup2 manager: %w", err)
	}

	return &Cgroup{
		path: filepath.Join(cgroupRoot, group),
		mgr:  mgr,
	}, nil
}

// newSystemdCgroup registers a transient systemd scope for the cgroup via
// dbus and returns a Cgroup backed by the resulting cgroup2.Manager.
func newSystemdCgroup(cgroupPath string) (*Cgroup, error) {
	slice, name := splitSystemdPath(cgroupPath)

	mgr, err := cgroup2.NewSystemd(slice, name, os.Getpid(), &cgroup2.Resources{})
	if err != nil {
		return nil, fmt.Errorf("create systemd cgroup scope: %w", err)
	}

	// Flat slice hierarchy assumption: nested slices (e.g. "foo-bar.slice"
	// living under "foo.slice") are not resolved here, only the common case
	// of a single top-level slice such as system.slice or user.slice.
	return &Cgroup{
		path: filepath.Join(cgroupRoot, slice, name),
		mgr:  mgr,
	}, nil
}

// splitSystemdPath parses the "slice:prefix:name" convention used by the
// systemd cgroup driver. A bare name with no colons is placed under
// system.slice with an "nsrun" prefix.
func splitSystemdPath(cgroupPath string) (slice, name string) {
	parts := strings.Split(cgroupPath, ":")
	if len(parts) == 3 {
		return parts[0], parts[1] + "-" + parts[2] + ".scope"
	}
	return "system.slice", "nsrun-" + strings.ReplaceAll(cgroupPath, "/", "-") + ".scope"
}

// Path returns the filesystem path of the cgroup.
func (c *Cgroup) Path() string {
	return c.path
}

// AddProcess adds a process to this cgroup.
func (c *Cgroup) AddProcess(pid int) error {
	return c.mgr.AddProc(uint64(pid))
}

// ApplyResources applies OCI resource limits to the cgroup via a single
// cgroup2.Resources update.
func (c *Cgroup) ApplyResources(resources *spec.LinuxResources) error {
	if resources == nil {
		return nil
	}

	r := &cgroup2.Resources{}

	if mem := toMemory(resources.Memory); mem != nil {
		r.Memory = mem
	}
	if cpu := toCPU(resources.CPU); cpu != nil {
		r.CPU = cpu
	}
	if resources.Pids != nil && resources.Pids.Limit > 0 {
		r.Pids = &cgroup2.Pids{Max: resources.Pids.Limit}
	}
	if len(resources.Unified) > 0 {
		r.Unified = make(map[string]string, len(resources.Unified))
		for k, v := range resources.Unified {
			if err := validateCgroupKey(k); err != nil {
				return fmt.Errorf("invalid cgroup key %q: %w", k, err)
			}
			r.Unified[k] = v
		}
	}

	if err := c.mgr.Update(r); err != nil {
		return fmt.Errorf("update cgroup resources: %w", err)
	}

	return nil
}

// toMemory translates OCI memory limits to cgroup2.Memory. Swap is expressed
// by the OCI spec as memory+swap; cgroup2 wants the swap-only figure.
func toMemory(memory *spec.LinuxMemory) *cgroup2.Memory {
	if memory == nil {
		return nil
	}

	m := &cgroup2.Memory{}
	set := false

	if memory.Limit != nil && *memory.Limit > 0 {
		m.Max = memory.Limit
		set = true
	}
	if memory.Reservation != nil && *memory.Reservation > 0 {
		m.Low = memory.Reservation
		set = true
	}
	if memory.Swap != nil {
		swapLimit := *memory.Swap
		if memory.Limit != nil {
			swapLimit -= *memory.Limit
			if swapLimit < 0 {
				swapLimit = 0
			}
		}
		m.Swap = &swapLimit
		set = true
	}

	if !set {
		return nil
	}
	return m
}

// toCPU translates OCI CPU limits to cgroup2.CPU. Shares are remapped from
// the cgroup v1 range (2-262144) to the v2 weight range (1-10000).
func toCPU(cpu *spec.LinuxCPU) *cgroup2.CPU {
	if cpu == nil {
		return nil
	}

	c := &cgroup2.CPU{}
	set := false

	if cpu.Quota != nil || cpu.Period != nil {
		period := uint64(100000)
		if cpu.Period != nil && *cpu.Period > 0 {
			period = *cpu.Period
		}
		var quota *int64
		if cpu.Quota != nil && *cpu.Quota > 0 {
			quota = cpu.Quota
		}
		c.Max = cgroup2.NewCPUMax(quota, &period)
		set = true
	}

	if cpu.Shares != nil && *cpu.Shares > 0 {
		shares := *cpu.Shares
		var weight uint64 = 1
		if shares > 2 {
			weight = 1 + (shares-2)*9999/262142
		}
		if weight > 10000 {
			weight = 10000
		}
		c.Weight = &weight
		set = true
	}

	if cpu.Cpus != "" {
		c.Cpus = cpu.Cpus
		set = true
	}
	if cpu.Mems != "" {
		c.Mems = cpu.Mems
		set = true
	}

	if !set {
		return nil
	}
	return c
}

// Destroy removes the cgroup.
func (c *Cgroup) Destroy() error {
	return c.mgr.Delete()
}

// GetMemoryCurrent returns current memory usage.
func (c *Cgroup) GetMemoryCurrent() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// GetPidsCurrent returns current number of processes.
func (c *Cgroup) GetPidsCurrent() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "pids.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// Freeze freezes all processes in the cgroup.
func (c *Cgroup) Freeze() error {
	return c.mgr.Freeze()
}

// Thaw unfreezes all processes in the cgroup.
func (c *Cgroup) Thaw() error {
	return c.mgr.Thaw()
}

// EnsureParentControllers enables controllers on parent cgroups. cgroup2.Manager
// only manages the leaf group it was created with, so enabling controllers on
// ancestors is still done directly against cgroup.subtree_control.
func EnsureParentControllers(cgroupPath string) error {
	parts := strings.Split(strings.Trim(cgroupPath, "/"), "/")
	current := cgroupRoot

	controllers := "+cpu +memory +pids +cpuset"

	for _, part := range parts {
		controlFile := filepath.Join(current, "cgroup.subtree_control")
		// Best effort - some controllers might not be available.
		os.WriteFile(controlFile, []byte(controllers), 0644)
		current = filepath.Join(current, part)
	}

	return nil
}

// GetCgroupPath returns the default cgroup path for a container.
func GetCgroupPath(containerID string, specPath string) string {
	if specPath != "" {
		return specPath
	}
	return filepath.Join("nsrun", containerID)
}

// validateCgroupKey rejects path separators and leading dots; cgroup2 itself
// validates the rest when the key is written during Update.
func validateCgroupKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("key contains path separator")
	}
	if key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return fmt.Errorf("key is a relative path component")
	}
	return nil
}
