package security

import "strings"

// Risk is the coarse danger level of a shell command.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

var highRisk = map[string]bool{
	"rm": true, "mkfs": true, "dd": true, "shutdown": true, "reboot": true,
	"sudo": true, "su": true, "chown": true, "chmod": true, "useradd": true,
	"userdel": true, "passwd": true, "mount": true, "umount": true,
	"iptables": true, "ufw": true, "nc": true, "telnet": true,
	"kill": true, "killall": true, "pkill": true,
}

var mediumRisk = map[string]bool{
	"git": true, "npm": true, "yarn": true, "cargo": true, "pip": true,
	"touch": true, "mkdir": true, "mv": true, "cp": true, "ln": true,
}

// ClassifyCommand rates a command by its first token with any path prefix
// removed, so "/bin/rm" and "C:\tools\rm" both rate as rm.
func ClassifyCommand(command string) Risk {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return RiskLow
	}
	base := fields[0]
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	switch {
	case highRisk[base]:
		return RiskHigh
	case mediumRisk[base]:
		return RiskMedium
	default:
		return RiskLow
	}
}
