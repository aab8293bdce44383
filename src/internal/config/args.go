package config

import "strings"

// OverrideArgs picks "--section.key=value" and "--section.key value"
// arguments out of a command line for Load. Flags without a dot in their
// name are left to the caller's flag set.
func OverrideArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		key, _, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !strings.Contains(key, ".") {
			continue
		}
		if hasValue {
			out = append(out, arg)
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, "--"+key+"="+args[i+1])
			i++
			continue
		}
		// Bare boolean switch
		out = append(out, "--"+key+"=true")
	}
	return out
}
