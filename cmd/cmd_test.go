package cmd

import (
	"testing"

	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
)

func TestExecute_Version(t *testing.T) {
	stdout, _ := captureOutput(func() {
		if err := Execute([]string{"warpload", "version"}, BuildArgs{
			Version: "1.0.0", BuildType: "release", Date: "2026-01-01", Commit: "abc123",
		}); err != nil {
			t.Errorf("Execute: %v", err)
		}
	})
	assertContains(t, stdout, "warpload 1.0.0-release")
	assertContains(t, stdout, "Build: 2026-01-01=abc123")
	if currentBuildArgs.Version != "1.0.0" {
		t.Fatalf("build args not recorded: %+v", currentBuildArgs)
	}
}

func TestExecute_HelpWithoutCommand(t *testing.T) {
	called := false
	prev := cmdcommon.SetShowAppHelpAndExit(func(*cli.Context, int) { called = true })
	defer cmdcommon.SetShowAppHelpAndExit(prev)

	captureOutput(func() {
		if err := Execute([]string{"warpload"}, BuildArgs{Version: "test"}); err != nil {
			t.Errorf("Execute: %v", err)
		}
	})
	if !called {
		t.Fatal("expected app help")
	}
}

func TestExecute_ValidateCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"load.yaml": "resources:\n  - id: a\n    src: a.txt\n",
	})
	stdout, _ := captureOutput(func() {
		if err := Execute([]string{"warpload", "validate", dir + "/load.yaml"}, BuildArgs{Version: "test"}); err != nil {
			t.Errorf("Execute: %v", err)
		}
	})
	assertContains(t, stdout, "ok, 1 resource(s)")
}

func TestExecute_HistoryNeedsDatabase(t *testing.T) {
	t.Setenv("WARPLOAD_HISTORY_DB", "")
	prev := cmdcommon.SetShowCommandHelp(func(*cli.Context, string) error { return nil })
	defer cmdcommon.SetShowCommandHelp(prev)

	stdout, _ := captureOutput(func() {
		_ = Execute([]string{"warpload", "history"}, BuildArgs{Version: "test"})
	})
	assertContains(t, stdout, "no history database provided")
}

func TestGetUserAgent(t *testing.T) {
	old := currentBuildArgs
	currentBuildArgs = BuildArgs{Version: "2.0.0"}
	defer func() { currentBuildArgs = old }()

	tests := map[string]string{
		"":           "warpload/2.0.0",
		"Warpload":   "warpload/2.0.0",
		"firefox":    UserAgents["firefox"],
		"CHROME":     UserAgents["chrome"],
		"my-agent/1": "my-agent/1",
		"  spaced  ": "spaced",
	}
	for in, want := range tests {
		if got := getUserAgent(in); got != want {
			t.Errorf("getUserAgent(%q) = %q, want %q", in, got, want)
		}
	}
}
