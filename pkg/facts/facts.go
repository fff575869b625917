// Package facts gathers system information from target hosts.
//
// Facts are collected with a single probe command so that connectors with
// a per-command round trip, such as salt-api, pay for it only once.
package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

// probe prints one key=value pair per line. Lines from /etc/os-release are
// passed through with an "os_release." prefix.
const probe = `printf 'kernel_name=%s\n' "$(uname -s)"
printf 'kernel=%s\n' "$(uname -r)"
printf 'architecture=%s\n' "$(uname -m)"
printf 'hostname=%s\n' "$(hostname)"
printf 'user=%s\n' "$(id -un)"
printf 'home=%s\n' "$HOME"
printf 'shell=%s\n' "$SHELL"
if [ -r /etc/os-release ]; then sed -e 's/^/os_release./' /etc/os-release; fi
true`

// Gather collects system facts from the target.
func Gather(ctx context.Context, conn connector.Connector) (map[string]any, error) {
	result, err := conn.Execute(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("failed to gather facts: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("fact probe exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return Parse(result.Stdout), nil
}

// Parse turns probe output into facts.
func Parse(out string) map[string]any {
	facts := make(map[string]any)
	osRelease := make(map[string]string)

	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key == "" {
			continue
		}
		if name, found := strings.CutPrefix(key, "os_release."); found {
			if !strings.HasPrefix(name, "#") {
				osRelease[name] = strings.Trim(value, `"'`)
			}
			continue
		}
		if value != "" {
			facts[key] = value
		}
	}

	if arch, ok := facts["architecture"].(string); ok {
		facts["arch"] = normalizeArch(arch)
	}

	switch facts["kernel_name"] {
	case "Darwin":
		facts["os_family"] = "Darwin"
		facts["pkg_manager"] = "brew"
	case "Linux":
		facts["os_family"] = "Linux"
		applyOSRelease(facts, osRelease)
	}

	return facts
}

func applyOSRelease(facts map[string]any, osRelease map[string]string) {
	if len(osRelease) == 0 {
		return
	}

	if id := osRelease["ID"]; id != "" {
		facts["distribution"] = id
		if family, pkg := distroFamily(id); family != "" {
			facts["os_family"] = family
			facts["pkg_manager"] = pkg
		}
	}
	if v := osRelease["VERSION_ID"]; v != "" {
		facts["distribution_version"] = v
	}
	if name := osRelease["PRETTY_NAME"]; name != "" {
		facts["os_name"] = name
	}
}

// distroFamily maps an os-release ID to its family and package manager.
func distroFamily(id string) (family, pkgManager string) {
	switch id {
	case "ubuntu", "debian", "linuxmint", "pop", "raspbian":
		return "Debian", "apt"
	case "fedora", "rhel", "centos", "rocky", "almalinux", "ol", "amzn":
		return "RedHat", "dnf"
	case "arch", "manjaro":
		return "Arch", "pacman"
	case "alpine":
		return "Alpine", "apk"
	case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles":
		return "Suse", "zypper"
	default:
		return "", ""
	}
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l":
		return "arm"
	default:
		return arch
	}
}
