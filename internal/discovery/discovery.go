// Package discovery implements the provisioning discovery loop: probing
// sources in a fixed precedence order, installing a network-discovery
// profile on a miss, and monitoring link-up events. A link-up event
// resets the idle timer that governs the restart-ztp-interval lease
// flush; it does not itself restart interfaces or flush leases.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sonic-net/sonic-ztp/internal/document"
)

// Verdict tells the supervisor what discovery concluded.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictDocumentReady
	VerdictManualConfigPresent
	VerdictAdminDisabled
)

// Paths collects the trigger files discovery reads.
type Paths struct {
	WorkingDocument  string
	LocalDocument    string
	StartupConfig    string
	Opt67URLFile     string
	Opt59URLFile     string
	Opt66TFTPFile    string
	Opt239URLFile    string
	Opt239V6URLFile  string
	GraphURLFile     string
	ACLURLFile       string
}

// Store is the minimal config accessor discovery needs; satisfied by
// *zconfig.Store in production and a fake in tests.
type Store interface {
	GetBool(key string) bool
	GetInt(key string) int
	GetString(key string) string
}

// ProfileManager installs/monitors the transient network-discovery
// profile; its implementation (OS integration) is external to this
// engine's core.
type ProfileManager interface {
	Install(ctx context.Context) error
	Remove(ctx context.Context, configFallback bool) error
	LinkUpTransitions(ctx context.Context) (bool, error)
	FlushLeases(ctx context.Context) error
}

// Downloader is the subset of the document download environment
// discovery needs to fetch a bare URL reference.
type Downloader interface {
	DownloadURL(ctx context.Context, source, dest string) error
}

// Loop drives one discovery pass sequence.
type Loop struct {
	Paths      Paths
	Store      Store
	Profile    ProfileManager
	Downloader Downloader

	profileInstalled bool
	idleSince        time.Time
}

// New returns a Loop ready to run.
func New(paths Paths, store Store, profile ProfileManager, downloader Downloader) *Loop {
	return &Loop{Paths: paths, Store: store, Profile: profile, Downloader: downloader}
}

// Run executes discovery until a source is found or an administrative
// exit condition is reached, sleeping discovery-interval between misses
// and restarting interfaces after a cumulative idle period exceeding
// restart-ztp-interval.
func (l *Loop) Run(ctx context.Context) (Verdict, error) {
	l.idleSince = time.Time{}

	for {
		select {
		case <-ctx.Done():
			return VerdictNone, ctx.Err()
		default:
		}

		// Rechecked every iteration so an operator disabling ZTP while
		// discovery is idle takes effect without a process restart.
		if !l.Store.GetBool("admin-mode") {
			return VerdictAdminDisabled, nil
		}

		verdict, err := l.probeOnce(ctx)
		if err != nil {
			return VerdictNone, err
		}
		if verdict != VerdictNone {
			return verdict, nil
		}

		if err := l.onMiss(ctx); err != nil {
			return VerdictNone, err
		}
	}
}

// probeOnce runs every source probe in fixed precedence order and
// returns on the first hit.
func (l *Loop) probeOnce(ctx context.Context) (Verdict, error) {
	probes := []func(context.Context) (Verdict, error){
		l.probeExistingDocument,
		l.probeManualConfig,
		l.probeLocalDocument,
		l.probeDHCPv4Opt67,
		l.probeDHCPv6Opt59,
		l.probeDHCPv4Opt239,
		l.probeDHCPv6Opt239,
		l.probeGraphACL,
	}

	for _, probe := range probes {
		verdict, err := probe(ctx)
		if err != nil {
			return VerdictNone, err
		}
		if verdict != VerdictNone {
			return verdict, nil
		}
	}
	return VerdictNone, nil
}

func (l *Loop) probeExistingDocument(context.Context) (Verdict, error) {
	return l.fileExists(l.Paths.WorkingDocument)
}

func (l *Loop) fileExists(path string) (Verdict, error) {
	if path == "" {
		return VerdictNone, nil
	}
	if _, err := os.Stat(path); err == nil {
		return VerdictDocumentReady, nil
	}
	return VerdictNone, nil
}

func (l *Loop) probeManualConfig(context.Context) (Verdict, error) {
	if !l.Store.GetBool("monitor-startup-config") {
		return VerdictNone, nil
	}
	if l.Paths.StartupConfig == "" {
		return VerdictNone, nil
	}
	if _, err := os.Stat(l.Paths.StartupConfig); err == nil {
		return VerdictManualConfigPresent, nil
	}
	return VerdictNone, nil
}

func (l *Loop) probeLocalDocument(context.Context) (Verdict, error) {
	if l.Paths.LocalDocument == "" {
		return VerdictNone, nil
	}
	if _, err := os.Stat(l.Paths.LocalDocument); err != nil {
		return VerdictNone, nil
	}
	if err := copyFile(l.Paths.LocalDocument, l.Paths.WorkingDocument); err != nil {
		return VerdictNone, errors.Wrap(err, "discovery: adopting local document")
	}
	return VerdictDocumentReady, nil
}

func (l *Loop) probeDHCPv4Opt67(ctx context.Context) (Verdict, error) {
	return l.downloadURLFile(ctx, l.Paths.Opt67URLFile, l.tftpRewrite)
}

func (l *Loop) probeDHCPv6Opt59(ctx context.Context) (Verdict, error) {
	return l.downloadURLFile(ctx, l.Paths.Opt59URLFile, nil)
}

func (l *Loop) probeDHCPv4Opt239(ctx context.Context) (Verdict, error) {
	return l.downloadAndSynthesize(ctx, l.Paths.Opt239URLFile)
}

func (l *Loop) probeDHCPv6Opt239(ctx context.Context) (Verdict, error) {
	return l.downloadAndSynthesize(ctx, l.Paths.Opt239V6URLFile)
}

func (l *Loop) probeGraphACL(ctx context.Context) (Verdict, error) {
	if l.Paths.GraphURLFile == "" {
		return VerdictNone, nil
	}
	graphURL, err := readTrimmed(l.Paths.GraphURLFile)
	if err != nil {
		return VerdictNone, nil
	}
	aclURL, _ := readTrimmed(l.Paths.ACLURLFile)

	doc := synthesizeGraphDocument(graphURL, aclURL)
	b, err := document.MarshalDocument(doc)
	if err != nil {
		return VerdictNone, errors.Wrap(err, "discovery: marshaling graph document")
	}
	if err := os.WriteFile(l.Paths.WorkingDocument, b, 0o644); err != nil {
		return VerdictNone, errors.Wrap(err, "discovery: writing graph document")
	}
	return VerdictDocumentReady, nil
}

func (l *Loop) tftpRewrite(source string) string {
	if strings.Contains(source, "://") {
		return source
	}
	hint, err := readTrimmed(l.Paths.Opt66TFTPFile)
	if err != nil || hint == "" {
		return source
	}
	return "tftp://" + hint + "/" + strings.TrimPrefix(source, "/")
}

func (l *Loop) downloadURLFile(ctx context.Context, urlFile string, rewrite func(string) string) (Verdict, error) {
	if urlFile == "" {
		return VerdictNone, nil
	}
	source, err := readTrimmed(urlFile)
	if err != nil || source == "" {
		return VerdictNone, nil
	}
	if rewrite != nil {
		source = rewrite(source)
	}
	if err := l.Downloader.DownloadURL(ctx, source, l.Paths.WorkingDocument); err != nil {
		return VerdictNone, nil // treated as a miss; next iteration retries
	}
	return VerdictDocumentReady, nil
}

func (l *Loop) downloadAndSynthesize(ctx context.Context, urlFile string) (Verdict, error) {
	if urlFile == "" {
		return VerdictNone, nil
	}
	source, err := readTrimmed(urlFile)
	if err != nil || source == "" {
		return VerdictNone, nil
	}

	scriptDest := l.Store.GetString("provisioning-script")
	if scriptDest == "" {
		scriptDest = filepath.Join(filepath.Dir(l.Paths.WorkingDocument), "provisioning-script")
	}
	if err := l.Downloader.DownloadURL(ctx, source, scriptDest); err != nil {
		return VerdictNone, nil
	}

	doc := synthesizeScriptDocument(scriptDest)
	b, err := document.MarshalDocument(doc)
	if err != nil {
		return VerdictNone, errors.Wrap(err, "discovery: marshaling synthesized document")
	}
	if err := os.WriteFile(l.Paths.WorkingDocument, b, 0o644); err != nil {
		return VerdictNone, errors.Wrap(err, "discovery: writing synthesized document")
	}
	return VerdictDocumentReady, nil
}

func (l *Loop) onMiss(ctx context.Context) error {
	if l.Profile != nil && !l.profileInstalled {
		if err := l.Profile.Install(ctx); err != nil {
			return errors.Wrap(err, "discovery: profile install failed")
		}
		l.profileInstalled = true
	}

	if l.Profile != nil {
		up, err := l.Profile.LinkUpTransitions(ctx)
		if err == nil && up {
			l.idleSince = time.Time{}
		}
	}

	interval := time.Duration(l.Store.GetInt("discovery-interval")) * time.Second
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(interval):
	}

	if l.idleSince.IsZero() {
		l.idleSince = time.Now()
	}

	// restart-ztp-interval of 0 collapses the restart wait rather than
	// disabling it: time.Since is always >= 0, so the flush/restart fires
	// on every miss and the loop keeps making forward progress.
	restartInterval := time.Duration(l.Store.GetInt("restart-ztp-interval")) * time.Second
	if time.Since(l.idleSince) >= restartInterval {
		if l.Profile != nil {
			l.Profile.FlushLeases(ctx)
		}
		l.idleSince = time.Now()
	}

	return nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func copyFile(src, dest string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, 0o644)
}
