package server

import (
	"context"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/warpdl/warpload/common"
	"github.com/warpdl/warpload/pkg/loadsched"
)

const codeRunNotActive = jrpc2.Code(common.CodeRunNotActive)

// Controller is the part of a scheduler the RPC methods drive.
type Controller interface {
	Snapshot() loadsched.Status
	Pause()
	Resume()
}

func (s *Server) newMethods() handler.Map {
	return handler.Map{
		common.MethodGetVersion: handler.New(s.systemGetVersion),
		common.MethodRunStatus:  handler.New(s.runStatus),
		common.MethodRunPause:   handler.New(s.runPause),
		common.MethodRunResume:  handler.New(s.runResume),
	}
}

func (s *Server) systemGetVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		BuildType: s.cfg.BuildType,
	}, nil
}

// runStatus returns a snapshot of the run.
func (s *Server) runStatus(_ context.Context) (*common.StatusResult, error) {
	return common.NewStatusResult(s.ctl.Snapshot()), nil
}

// runPause stops admitting new resources. In-flight attempts keep going.
func (s *Server) runPause(_ context.Context) (*common.EmptyResult, error) {
	if !s.ctl.Snapshot().Running {
		return nil, &jrpc2.Error{Code: codeRunNotActive, Message: "run not active"}
	}
	s.ctl.Pause()
	return &common.EmptyResult{}, nil
}

// runResume restarts admission after a pause.
func (s *Server) runResume(_ context.Context) (*common.EmptyResult, error) {
	if !s.ctl.Snapshot().Running {
		return nil, &jrpc2.Error{Code: codeRunNotActive, Message: "run not active"}
	}
	s.ctl.Resume()
	return &common.EmptyResult{}, nil
}
