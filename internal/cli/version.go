package cli

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			v, meta := resolveVersion(a.version)
			if short {
				_, err := fmt.Fprintln(w, v)
				return err
			}
			if meta != "" {
				_, err := fmt.Fprintf(w, "queryiq %s (%s)\n", v, meta)
				return err
			}
			_, err := fmt.Fprintf(w, "queryiq %s\n", v)
			return err
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}

// resolveVersion prefers the linker-injected version and falls back to the
// module version recorded in the build info. The second value carries VCS
// details when available.
func resolveVersion(version string) (string, string) {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}

	var commit, buildTime string
	var dirty bool
	if info, ok := debug.ReadBuildInfo(); ok {
		if (v == "dev" || v == "(devel)") &&
			info.Main.Version != "" &&
			info.Main.Version != "(devel)" &&
			!strings.HasPrefix(info.Main.Version, "v0.0.0-") {
			v = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}

	var details []string
	if commit != "" {
		rev := commit
		if len(rev) > 12 {
			rev = rev[:12]
		}
		if dirty {
			rev += "*"
		}
		details = append(details, "commit "+rev)
	} else if dirty {
		details = append(details, "modified workspace")
	}
	if buildTime != "" {
		details = append(details, "built "+buildTime)
	}
	return v, strings.Join(details, ", ")
}
