// Package engine implements the section execution engine: iterating a
// document's sections in lexical order, driving each through its status
// state machine, and computing the document's overall verdict.
package engine

import (
	"context"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/sonic-net/sonic-ztp/internal/document"
	"github.com/sonic-net/sonic-ztp/internal/plugin"
)

// Decision is returned by Run alongside the final document status; it
// tells the supervisor what to do next.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionRebootImmediate
)

// Runner drives one execution pass set for a document.
type Runner struct {
	Resolver *plugin.Resolver
	Paths    document.Paths
	Saver    interface {
		Save(*document.Document) error
	}

	// ExecCommand is overridable in tests to avoid spawning real
	// processes.
	ExecCommand func(ctx context.Context, name string, args []string, shell bool, umask string) (int, error)
}

// New returns a Runner using the real process-execution path.
func New(resolver *plugin.Resolver, paths document.Paths, saver interface {
	Save(*document.Document) error
}) *Runner {
	return &Runner{
		Resolver:    resolver,
		Paths:       paths,
		Saver:       saver,
		ExecCommand: runCommand,
	}
}

// Run processes doc's sections until the working set is empty, a halting
// failure occurs, or a section's policy demands an immediate reboot. The
// latter is terminal: Run stops before any later section runs and returns
// DecisionRebootImmediate, leaving it to the caller to decide whether that
// means an actual reboot or (test mode) a clean exit (deferred
// document-level reboot is a separate decision, computed from Verdict).
func (r *Runner) Run(ctx context.Context, doc *document.Document) Decision {
	abort := false
	decision := DecisionNone

	for {
		names := pendingNames(doc)
		if len(names) == 0 || abort {
			break
		}

		startStatus := make(map[string]string, len(names))
		for _, name := range names {
			startStatus[name] = doc.Sections[name].Status
		}

		for _, name := range names {
			sec := doc.Sections[name]

			switch sec.Status {
			case document.StatusDisabled, document.StatusSuccess, document.StatusFailed:
				continue
			case document.StatusBoot, document.StatusSuspend:
				sec.Status = document.StatusInProgress
				if sec.StartTimestamp == "" {
					sec.StartTimestamp = nowStamp()
				}
				sec.Timestamp = nowStamp()
				r.persist(doc)
			}

			path, err := r.Resolver.Resolve(ctx, name, sec.Plugin)
			if err != nil {
				sec.Status = document.StatusFailed
				sec.Error = "Unable to find or download requested plugin"
				sec.Timestamp = nowStamp()
				r.persist(doc)
			} else {
				r.execute(ctx, doc, name, sec, path)
			}

			if sec.Status == document.StatusFailed && boolVal(sec.Policy.HaltOnFailure) {
				abort = true
			}

			// A halting failure stops the run before the same section's
			// reboot action is ever evaluated; halt wins when both flags
			// fire on one section.
			if !abort && sec.Status != document.StatusSuspend && sectionWantsImmediateReboot(sec) {
				decision = DecisionRebootImmediate
				abort = true
			}

			if abort {
				break
			}
		}

		if abort {
			break
		}

		// A pass makes no progress when every pending section ends it
		// exactly where it started (necessarily SUSPEND, since BOOT
		// always advances on its first pass). Such sections convert to
		// FAILED after one stable pass instead of looping forever.
		stable := true
		for _, name := range names {
			sec := doc.Sections[name]
			if sec.Status != startStatus[name] || sec.Status != document.StatusSuspend {
				stable = false
				break
			}
		}
		if stable {
			for _, name := range names {
				sec := doc.Sections[name]
				sec.Status = document.StatusFailed
				sec.Error = "suspended section made no progress across a full pass"
				sec.Timestamp = nowStamp()
			}
			r.persist(doc)
			break
		}
	}

	return decision
}

// Verdict computes the document's overall status: SUCCESS when
// ignore-result is set or no non-ignored section failed, FAILED on the
// first failing non-ignored section.
func Verdict(doc *document.Document) {
	if boolVal(doc.Policy.IgnoreResult) {
		doc.Status = document.StatusSuccess
		doc.Timestamp = nowStamp()
		return
	}

	for _, name := range doc.SectionNames() {
		sec := doc.Sections[name]
		if sec.Status == document.StatusFailed && !boolVal(sec.Policy.IgnoreResult) {
			doc.Status = document.StatusFailed
			doc.Error = name + " FAILED"
			doc.Timestamp = nowStamp()
			return
		}
	}

	doc.Status = document.StatusSuccess
	doc.Timestamp = nowStamp()
}

func pendingNames(doc *document.Document) []string {
	names := doc.SectionNames()
	pending := names[:0:0]
	for _, name := range names {
		sec := doc.Sections[name]
		switch sec.Status {
		case document.StatusSuccess, document.StatusFailed, document.StatusDisabled:
			continue
		default:
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

func (r *Runner) execute(ctx context.Context, doc *document.Document, name string, sec *document.Section, pluginPath string) {
	inputPath := ""
	if sec.Plugin == nil || !sec.Plugin.IgnoreSectionData {
		inputPath = sectionInputPath(r.Paths, name)
	}

	var shell bool
	var umask string
	if sec.Plugin != nil {
		shell = sec.Plugin.Shell
		umask = sec.Plugin.Umask
	}

	args := plugin.Args(inputPath, sec.Plugin)

	code, err := r.ExecCommand(ctx, pluginPath, args, shell, umask)
	sec.Timestamp = nowStamp()

	if err != nil {
		sec.Status = document.StatusFailed
		sec.Error = err.Error()
		r.persist(doc)
		return
	}

	sec.ExitCode = &code
	switch {
	case code == 0:
		sec.Status = document.StatusSuccess
	case sec.SuspendExitCode != nil && code == *sec.SuspendExitCode:
		sec.Status = document.StatusSuspend
	default:
		sec.Status = document.StatusFailed
	}
	r.persist(doc)
}

func (r *Runner) persist(doc *document.Document) {
	if r.Saver != nil {
		r.Saver.Save(doc)
	}
}

func sectionInputPath(paths document.Paths, name string) string {
	input := paths.SectionInput
	if input == "" {
		input = "input.json"
	}
	return filepath.Join(paths.TmpPersistent, name, input)
}

func boolVal(b *bool) bool {
	return b != nil && *b
}

func sectionWantsImmediateReboot(sec *document.Section) bool {
	if sec.Status == document.StatusSuccess && boolVal(sec.Policy.RebootOnSuccess) {
		return true
	}
	if sec.Status == document.StatusFailed && boolVal(sec.Policy.RebootOnFailure) {
		return true
	}
	return false
}

// runCommand is the production ExecCommand implementation: spawn the
// plugin with args, optionally through the shell, applying umask before
// exec.
func runCommand(ctx context.Context, name string, args []string, shell bool, umask string) (int, error) {
	var cmd *exec.Cmd
	if shell {
		full := append([]string{name}, args...)
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", strings.Join(full, " "))
	} else {
		cmd = exec.CommandContext(ctx, name, args...)
	}

	restore := applyUmask(umask)
	err := cmd.Run()
	restore()

	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus(), nil
		}
	}
	return -1, err
}

// applyUmask parses an octal umask string and applies it for the
// duration of the spawned process, returning a func to restore the
// previous mask. An unparseable umask is ignored.
func applyUmask(umask string) func() {
	if umask == "" {
		return func() {}
	}
	v, err := strconv.ParseInt(umask, 8, 32)
	if err != nil {
		return func() {}
	}
	old := syscall.Umask(int(v))
	return func() { syscall.Umask(old) }
}

func nowStamp() string {
	return nowFunc().Format(timeFormat)
}
