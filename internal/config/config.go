// Package config loads the two-level YAML configuration the host reads
// at startup: a top-level list of application records, and a per-
// application config.yaml carrying its metadata and permission grants.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lssahost/lssa/internal/permission"
)

const wasmPageSize = 64 * 1024

// DefaultMinMemoryPages and DefaultMaxMemoryPages are used when an
// application record omits its memory block.
const (
	DefaultMinMemoryPages = 16  // 1 MiB
	DefaultMaxMemoryPages = 256 // 16 MiB
)

// HostConfig is the top-level YAML document named by the command line.
type HostConfig struct {
	Applications []ApplicationRef `yaml:"applications"`
}

// ApplicationRef is one entry of the top-level applications list.
type ApplicationRef struct {
	Name   string            `yaml:"name"`
	Path   string            `yaml:"path"`
	Memory *MemoryLimits     `yaml:"memory,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// MemoryLimits are expressed in bytes in YAML and converted to wasm page
// counts (64 KiB each) when building the runtime.
type MemoryLimits struct {
	Min uint32 `yaml:"min"`
	Max uint32 `yaml:"max"`
}

// MinPages returns the configured minimum, in wasm pages, or the default
// if unset.
func (r ApplicationRef) MinPages() uint32 {
	if r.Memory == nil || r.Memory.Min == 0 {
		return DefaultMinMemoryPages
	}
	return pagesFromBytes(r.Memory.Min)
}

// MaxPages returns the configured maximum, in wasm pages, or the default
// if unset.
func (r ApplicationRef) MaxPages() uint32 {
	if r.Memory == nil || r.Memory.Max == 0 {
		return DefaultMaxMemoryPages
	}
	return pagesFromBytes(r.Memory.Max)
}

func pagesFromBytes(n uint32) uint32 {
	pages := n / wasmPageSize
	if n%wasmPageSize != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

// AppMetadata is the per-application config.yaml document.
type AppMetadata struct {
	PackageName string   `yaml:"package_name"`
	Bin         string   `yaml:"bin"`
	Permissions []string `yaml:"permissions"`
}

// LoadHostConfig reads and parses the top-level YAML config named on the
// command line.
func LoadHostConfig(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading host config %q: %w", path, err)
	}

	var hc HostConfig
	if err := yaml.Unmarshal(data, &hc); err != nil {
		return nil, fmt.Errorf("config: parsing host config %q: %w", path, err)
	}

	seen := make(map[string]struct{}, len(hc.Applications))
	for _, app := range hc.Applications {
		if app.Name == "" {
			return nil, fmt.Errorf("config: application entry missing name")
		}
		if _, dup := seen[app.Name]; dup {
			return nil, fmt.Errorf("config: duplicate application name %q", app.Name)
		}
		seen[app.Name] = struct{}{}
	}

	return &hc, nil
}

// LoadAppMetadata reads <dir>/config.yaml and parses its permission
// grants into a permission.Set. Missing or malformed metadata is a fatal
// load error for that single application, per the external interface
// contract.
func LoadAppMetadata(dir string) (*AppMetadata, permission.Set, error) {
	metaPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, permission.Set{}, fmt.Errorf("config: reading app metadata %q: %w", metaPath, err)
	}

	var meta AppMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, permission.Set{}, fmt.Errorf("config: parsing app metadata %q: %w", metaPath, err)
	}
	if meta.Bin == "" {
		return nil, permission.Set{}, fmt.Errorf("config: app metadata %q missing bin", metaPath)
	}

	perms := make([]permission.Permission, 0, len(meta.Permissions))
	for _, raw := range meta.Permissions {
		p, err := ParsePermission(raw)
		if err != nil {
			return nil, permission.Set{}, fmt.Errorf("config: app metadata %q: %w", metaPath, err)
		}
		perms = append(perms, p)
	}

	return &meta, permission.NewSet(perms), nil
}

// ParsePermission parses one permission tag. Scalar tags (Timer,
// TcpListenAny, TcpConnectAny, FileOpenReadOnlyAny, FileOpenReadWriteAny)
// stand alone; TcpListen/TcpConnect carry an address after a colon, e.g.
// "TcpListen:127.0.0.1:2231".
func ParsePermission(raw string) (permission.Permission, error) {
	tag, addr, hasAddr := strings.Cut(raw, ":")
	switch tag {
	case "Timer":
		return permission.Permission{Kind: permission.Timer}, nil
	case "TcpListenAny":
		return permission.Permission{Kind: permission.TcpListenAny}, nil
	case "TcpConnectAny":
		return permission.Permission{Kind: permission.TcpConnectAny}, nil
	case "FileOpenReadOnlyAny":
		return permission.Permission{Kind: permission.FileOpenReadOnlyAny}, nil
	case "FileOpenReadWriteAny":
		return permission.Permission{Kind: permission.FileOpenReadWriteAny}, nil
	case "TcpListen":
		if !hasAddr {
			return permission.Permission{}, fmt.Errorf("permission %q requires an address", raw)
		}
		return permission.Permission{Kind: permission.TcpListen, Addr: addr}, nil
	case "TcpConnect":
		if !hasAddr {
			return permission.Permission{}, fmt.Errorf("permission %q requires an address", raw)
		}
		return permission.Permission{Kind: permission.TcpConnect, Addr: addr}, nil
	default:
		return permission.Permission{}, fmt.Errorf("unrecognized permission tag %q", tag)
	}
}
