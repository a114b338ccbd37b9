package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
	"github.com/warpdl/warpload/internal/manifest"
	"github.com/warpdl/warpload/pkg/fetch"
	"github.com/warpdl/warpload/pkg/loadsched"
)

var errNotFetching = errors.New("validate does not fetch")

func validate(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cmdcommon.PrintErrWithCmdHelp(
			ctx,
			errors.New("no manifest provided"),
		)
	} else if path == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if err := validateManifest(afero.NewOsFs(), path, os.Stdout); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "validate", "check", err)
		return cli.NewExitError("", 1)
	}
	return nil
}

// validateManifest checks kinds, locators and the dependency graph of the
// manifest at path. Every problem found is reported in the returned error.
func validateManifest(fsys afero.Fs, path string, w io.Writer) error {
	m, err := manifest.Load(fsys, path)
	if err != nil {
		return err
	}
	opts, _ := m.Options()
	resources, _ := m.Build()

	f, err := fetch.New(fetch.Options{FS: fsys, Root: m.Dir})
	if err != nil {
		return err
	}
	sched := loadsched.New(loadsched.FetcherFunc(func(context.Context, *loadsched.Resource) (any, error) {
		return nil, errNotFetching
	}), opts)
	defer sched.Close()

	var problems []error
	perClass := make(map[loadsched.Priority]int)
	for _, r := range resources {
		if !f.Supports(r.Kind) {
			problems = append(problems, fmt.Errorf("%s: %w %q", r.ID, loadsched.ErrUnsupportedKind, r.Kind))
		}
		if _, _, err := f.Router().Resolve(r.Src); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", r.ID, err))
		}
		if err := sched.Register(r); err != nil {
			problems = append(problems, err)
			continue
		}
		p := r.Priority
		if p == loadsched.PriorityUnset {
			p = loadsched.PriorityMedium
		}
		perClass[p]++
	}
	if err := sched.Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return errors.Join(problems...)
	}

	fmt.Fprintf(w, "%s: ok, %d resource(s) (high %d, medium %d, low %d)\n",
		path, len(resources),
		perClass[loadsched.PriorityHigh],
		perClass[loadsched.PriorityMedium],
		perClass[loadsched.PriorityLow])
	return nil
}
