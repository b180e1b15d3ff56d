// Package flagx filters os.Args so independent components can each parse
// their own flags without tripping over flags they do not define. The test
// binary's -test.* flags are filtered out the same way.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns only the arguments belonging to the flags in allowed,
// keeping each flag's value whether written "-f value" or "-f=value".
func FilterArgs(args []string, allowed []string) []string {
	want := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		want[name] = struct{}{}
	}

	kept := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") {
			if name, _, found := strings.Cut(arg, "="); found {
				if _, ok := want[name]; ok {
					kept = append(kept, arg)
				}
				continue
			}
		}

		if _, ok := want[arg]; !ok {
			continue
		}
		kept = append(kept, arg)
		// A following non-flag argument is this flag's value.
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			kept = append(kept, args[i+1])
			i++
		}
	}
	return kept
}

// JsonConfigFlags returns the config file path given via -c or -config, or
// "" when neither is present. Parsed in isolation so the main flag set and
// the test runner's flags never see these.
func JsonConfigFlags() string {
	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	var path string
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to the JSON config file")
	fs.StringVar(&path, "c", "", "path to the JSON config file (shorthand)")
	_ = fs.Parse(args)
	return path
}
