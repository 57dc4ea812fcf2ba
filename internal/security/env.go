package security

import (
	"os"
	"runtime"
	"sort"
)

var (
	unixEnv    = []string{"PATH", "HOME", "TERM", "LANG", "USER", "SHELL", "TMPDIR"}
	windowsEnv = []string{"PATH", "SystemRoot", "ComSpec", "TEMP", "TMP", "USERPROFILE", "HOMEDRIVE", "HOMEPATH"}
)

// SanitizedEnvMap returns the subset of the process environment that child
// processes may inherit.
func SanitizedEnvMap() map[string]string {
	keys := unixEnv
	if runtime.GOOS == "windows" {
		keys = windowsEnv
	}
	env := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env
}

// SanitizedEnv returns SanitizedEnvMap in KEY=VALUE form, sorted by key,
// ready for exec.Cmd.Env.
func SanitizedEnv() []string {
	m := SanitizedEnvMap()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
