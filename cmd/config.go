package cmd

import "time"

const (
	DEF_HISTORY_LIMIT = 10
	DEF_RPC_TIMEOUT   = time.Second * 10
	DEF_SHUTDOWN      = time.Second * 5
)

const DESCRIPTION = `
warpload loads a set of declared resources (json documents, text,
images and scripts) from http, ftp, sftp or local files. Resources
are admitted per priority class, wait for their dependencies and
are retried with exponential backoff.
`

const (
	RunDescription = `The run command loads every resource declared in a
manifest and reports the outcome. It exits with status 1 when
any resource failed.

Flags override the manifest's concurrency limits. With
--rpc-listen the run can be watched and paused through
"warpload ctl", and Prometheus metrics are served on /metrics.

Example:
        warpload run assets.yaml
        warpload run --high 6 --history runs.db assets.yaml

`
	ValidateDescription = `The validate command reads a manifest and checks it
without fetching anything: kinds, locators, prerequisites
and dependency cycles.

Example:
        warpload validate assets.yaml

`
	HistoryDescription = `The history command lists recorded runs, newest first.
With --run it lists the outcome of each resource of that run.

Example:
        warpload history --history runs.db
        warpload history --history runs.db --run <run id>

`
	CtlDescription = `The ctl command controls a run started with --rpc-listen.

Actions:
        status  print queued, in-flight and settled resources
        pause   stop admitting new resources
        resume  resume admission after a pause
        watch   print events until the run completes

Example:
        warpload ctl --rpc-secret s3cret status

`
)
