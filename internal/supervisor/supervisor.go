// Package supervisor implements the engine supervisor: process
// lifecycle, signal handling, profile install/uninstall, reboot dispatch,
// and restart orchestration around the discovery loop and the section
// execution engine.
package supervisor

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/consul-template/manager"
	"github.com/pkg/errors"

	"github.com/sonic-net/sonic-ztp/internal/activity"
	"github.com/sonic-net/sonic-ztp/internal/discovery"
	"github.com/sonic-net/sonic-ztp/internal/document"
	"github.com/sonic-net/sonic-ztp/internal/engine"
	"github.com/sonic-net/sonic-ztp/internal/plugin"
	"github.com/sonic-net/sonic-ztp/internal/zconfig"
)

// RestartDecision is what the discovery/engine cycle asks the supervisor
// to do next.
type RestartDecision int

const (
	DecisionStop RestartDecision = iota
	DecisionRetry
	DecisionRestart
)

// ConfigError is returned for privilege or configuration failures that
// map to exit code 1. It implements the exit-status interface that
// Supervisor.fail type-switches on.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string   { return e.Err.Error() }
func (e *ConfigError) Unwrap() error   { return e.Err }
func (e *ConfigError) ExitStatus() int { return 1 }

var _ manager.ErrExitable = (*ConfigError)(nil)

// Supervisor orchestrates one engine lifetime.
type Supervisor struct {
	Store    *zconfig.Store
	Discover *discovery.Loop
	Loader   *document.Loader
	Resolver *plugin.Resolver
	Activity *activity.Sink
	Profile  discovery.ProfileManager

	// StartupConfig is the persisted startup configuration file; any
	// top-level "ZTP" object it carries is stripped when the session ends.
	StartupConfig string

	// RestartFlag is an operator-written flag file whose presence asks
	// for the persisted document to be discarded and discovery restarted.
	RestartFlag string

	TestMode        bool
	RequireRoot     bool
	SigHandlerWait  time.Duration
	RestartZTPSleep time.Duration

	// Once, when set, stops the supervisor after the first discover-
	// load-execute cycle regardless of the restart decision it would
	// otherwise produce (the CLI's "-once" flag).
	Once bool

	// Signal is the OS signal that triggers a graceful shutdown drain.
	// When unset, both interrupt and terminate are handled.
	Signal os.Signal
}

// Run drives the supervisor loop until a terminal decision is reached,
// returning the process exit code: 0 for normal termination in any
// state, 1 for a privilege or configuration error.
func (s *Supervisor) Run(parent context.Context) int {
	if s.RequireRoot && os.Geteuid() != 0 {
		return s.fail(&ConfigError{Err: errors.New("supervisor: must run as root")})
	}

	ctx, cancel := s.withSignalHandling(parent)
	defer cancel()

	for {
		decision, err := s.cycle(ctx)
		if err != nil {
			return s.fail(err)
		}

		if s.Once {
			return 0
		}

		switch decision {
		case DecisionStop:
			return 0
		case DecisionRetry:
			if s.Loader != nil {
				s.Loader.Delete()
			}
			continue
		case DecisionRestart:
			if s.Loader != nil {
				s.Loader.Delete()
			}
			if s.Profile != nil {
				s.Profile.FlushLeases(ctx)
			}
			select {
			case <-ctx.Done():
				return 0
			case <-time.After(s.RestartZTPSleep):
			}
			continue
		}
	}
}

// cycle runs one discovery → load → execute → verdict round.
func (s *Supervisor) cycle(ctx context.Context) (RestartDecision, error) {
	if s.restartRequested() {
		s.record("ZTP restart requested")
		return DecisionRetry, nil
	}

	verdict, err := s.Discover.Run(ctx)
	if err != nil {
		return DecisionStop, err
	}

	switch verdict {
	case discovery.VerdictAdminDisabled:
		s.record("ZTP is administratively disabled")
		s.removeProfile(ctx, false)
		return DecisionStop, nil
	case discovery.VerdictManualConfigPresent:
		s.record("Manual configuration present, ZTP not required")
		s.removeProfile(ctx, false)
		return DecisionStop, nil
	}

	doc, err := s.Loader.Load(ctx, s.Discover.Paths.WorkingDocument)
	if err != nil {
		if _, ok := err.(*document.InvalidDocumentError); ok {
			s.Loader.Delete()
			if s.Store.GetBool("restart-ztp-on-invalid-data") {
				return DecisionRestart, nil
			}
			return DecisionStop, nil
		}
		if doc == nil {
			return DecisionStop, err
		}
		// Out-of-range field values were repaired in place by the loader.
		log.Printf("[WARN] (supervisor) %s", err)
	}

	s.record("ZTP in progress")

	runner := engine.New(s.Resolver, s.Loader.Paths, s.Loader)
	sectionDecision := runner.Run(ctx, doc)

	engine.Verdict(doc)
	s.Loader.Save(doc)

	s.record(doc.Status)

	configFallback := doc.Status == document.StatusFailed || doc.Status == document.StatusSuccess
	configFallback = configFallback && boolVal(doc.Policy.ConfigFallback)
	s.removeProfile(ctx, configFallback)

	if sectionDecision == engine.DecisionRebootImmediate {
		if !s.TestMode {
			s.reboot(ctx)
		}
		return DecisionStop, nil
	}

	if doc.Status == document.StatusSuccess && boolVal(doc.Policy.RebootOnSuccess) {
		s.reboot(ctx)
		return DecisionStop, nil
	}
	if doc.Status == document.StatusFailed && boolVal(doc.Policy.RebootOnFailure) {
		s.reboot(ctx)
		return DecisionStop, nil
	}

	if doc.Status == document.StatusFailed && boolVal(doc.Policy.RestartZTPOnFailure) {
		return DecisionRestart, nil
	}

	return DecisionStop, nil
}

func (s *Supervisor) reboot(ctx context.Context) {
	s.record("Rebooting")
	log.Printf("[INFO] (supervisor) reboot requested")
	// The actual reboot command is an OS-integration concern external to
	// this engine's core; hooked here so a real build can wire
	// /sbin/reboot or an OS-specific equivalent.
}

func (s *Supervisor) removeProfile(ctx context.Context, configFallback bool) {
	if s.TestMode {
		return
	}
	if s.Profile != nil {
		if err := s.Profile.Remove(ctx, configFallback); err != nil {
			log.Printf("[ERR] (supervisor) profile removal failed: %s", err)
		}
	}
	s.stripStartupConfigZTP()
}

// restartRequested reports whether the operator restart flag file is
// present, consuming it when found.
func (s *Supervisor) restartRequested() bool {
	if s.RestartFlag == "" {
		return false
	}
	if _, err := os.Stat(s.RestartFlag); err != nil {
		return false
	}
	if err := os.Remove(s.RestartFlag); err != nil {
		log.Printf("[WARN] (supervisor) unable to remove restart flag: %s", err)
	}
	return true
}

// stripStartupConfigZTP removes any top-level "ZTP" object left behind in
// the persisted startup configuration, so a completed session never
// leaks provisioning state into the switch's running config.
func (s *Supervisor) stripStartupConfigZTP() {
	if s.StartupConfig == "" {
		return
	}
	b, err := os.ReadFile(s.StartupConfig)
	if err != nil {
		return
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(b, &cfg); err != nil {
		return
	}
	if _, ok := cfg["ZTP"]; !ok {
		return
	}
	delete(cfg, "ZTP")
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(s.StartupConfig, append(out, '\n'), 0o644); err != nil {
		log.Printf("[ERR] (supervisor) unable to rewrite startup config: %s", err)
	}
}

func (s *Supervisor) record(message string) {
	if s.Activity == nil {
		return
	}
	if err := s.Activity.Record(message); err != nil {
		log.Printf("[ERR] (supervisor) activity write failed: %s", err)
	}
}

func (s *Supervisor) fail(err error) int {
	log.Printf("[ERR] (supervisor) %s", err)
	if typed, ok := err.(manager.ErrExitable); ok {
		return typed.ExitStatus()
	}
	return 1
}

// withSignalHandling returns a context canceled on an interrupt or
// terminate signal. The goroutine only reacts to the delivered signal;
// the drain wait happens there, outside the async-signal path, before
// in-flight work is canceled.
func (s *Supervisor) withSignalHandling(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	if s.Signal != nil {
		signal.Notify(sigCh, s.Signal)
	} else {
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		select {
		case <-sigCh:
			log.Printf("[INFO] (supervisor) signal received, draining")
			time.Sleep(s.drainWait())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func (s *Supervisor) drainWait() time.Duration {
	if s.SigHandlerWait > 0 {
		return s.SigHandlerWait
	}
	return time.Duration(s.Store.GetInt("sighandler-wait-interval")) * time.Second
}

func boolVal(b *bool) bool { return b != nil && *b }
