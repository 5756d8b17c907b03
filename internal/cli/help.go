// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// help.go - Help and version commands.

package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/charmbracelet/glamour"
)

// helpTopics holds the long help for commands that have one.
var helpTopics = map[string]string{
	"run": `# bioreauth run

Opens the re-authentication screen. The screen asks for a code from your
authenticator app and unlocks the home screen on success.

| Key | Action |
|-----|--------|
| s, enter | Authenticate |
| p | Use your password instead |
| b / i / f | Simulate background, inactive and foreground |
| q | Quit |

Backgrounding always forgets the session. After **max_failed_attempts**
wrong codes the screen locks for **lockout_duration_secs**.
`,
	"unlock": `# bioreauth unlock

Prompts for a code on the terminal and exits with a status a script can
test. A fresh session succeeds without prompting.

| Exit | Meaning |
|------|---------|
| 0 | Authenticated |
| 4 | Not authenticated |
| 6 | Locked out |
| 7 | Capability unavailable, use the password |
| 8 | Prompt timed out |
`,
	"status": `# bioreauth status

Shows the attempt counter, any lockout and how long the session stays
fresh. Use ` + "`--json`" + ` for scripts and ` + "`--events N`" + ` to choose how many
audit events are listed.
`,
	"reset": `# bioreauth reset --confirm

Clears failed attempts and any lockout, including values that can no
longer be read. Add ` + "`--session`" + ` to also forget the last authentication.

A state file that fails its integrity check blocks every command. Add
` + "`--wipe`" + ` to delete it and start over; the enrollment is lost with it.
Every reset and wipe is written to the audit log.
`,
	"enroll": `# bioreauth enroll

Creates the authenticator secret and prints it with an ` + "`otpauth://`" + ` URL.
Refuses to replace an existing secret unless ` + "`--force`" + ` is given.
`,
	"config": `# bioreauth config

* ` + "`config show`" + ` prints the effective configuration
* ` + "`config path`" + ` prints the file in use
* ` + "`config init`" + ` writes the defaults

The file is looked up as config.toml, config.yaml or config.yml in
` + "`$BIOREAUTH_HOME`" + ` or the user config directory.
`,
}

// renderMarkdown renders md for a terminal, or returns it unchanged when
// output is not a terminal or rendering fails.
func renderMarkdown(md string, tty bool) string {
	if !tty {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// HandleHelp handles "bioreauth help [command]".
func HandleHelp(args Args, w io.Writer) error {
	topic := ""
	if len(args.Raw) > 0 {
		topic = args.Raw[0]
	}
	if topic == "" {
		PrintUsage(w)
		return nil
	}
	md, ok := helpTopics[topic]
	if !ok {
		return usageErr(fmt.Sprintf("no help for %q", topic), "bioreauth help [command]")
	}
	fmt.Fprint(w, renderMarkdown(md, styledOutput(w)))
	return nil
}

// VersionData is the --json payload of version.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion handles "bioreauth version".
func HandleVersion(args Args, w io.Writer) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return NewJSONResponse("version", data).Print(w, styledOutput(w))
	}
	fmt.Fprintf(w, "bioreauth %s\n", data.Version)
	if !args.Quiet {
		fmt.Fprintf(w, "  Commit:   %s\n", data.GitCommit)
		fmt.Fprintf(w, "  Built:    %s\n", data.BuildDate)
		fmt.Fprintf(w, "  Go:       %s\n", data.GoVersion)
		fmt.Fprintf(w, "  Platform: %s\n", data.Platform)
	}
	return nil
}
