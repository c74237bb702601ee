package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/consul-template/logging"
	"github.com/hashicorp/consul-template/signals"

	"github.com/sonic-net/sonic-ztp/internal/activity"
	"github.com/sonic-net/sonic-ztp/internal/discovery"
	"github.com/sonic-net/sonic-ztp/internal/document"
	"github.com/sonic-net/sonic-ztp/internal/download"
	"github.com/sonic-net/sonic-ztp/internal/identity"
	"github.com/sonic-net/sonic-ztp/internal/plugin"
	"github.com/sonic-net/sonic-ztp/internal/supervisor"
	"github.com/sonic-net/sonic-ztp/internal/zconfig"
	"github.com/sonic-net/sonic-ztp/version"
)

// Exit codes are int values that represent an exit code for a particular
// error. Sub-systems may check this unique error to determine the cause
// of an error without parsing the output or help text. The supervisor
// owns the documented 0/1 process exit codes; the additional codes below
// only ever surface when the CLI itself cannot get far enough to hand
// off to the supervisor.
//
// Error codes start at 11 (ExitCodeError).
const (
	ExitCodeOK int = 0

	ExitCodeError = 10 + iota
	ExitCodeParseFlagsError
	ExitCodeConfigError
)

// CLI is the main entry point for the ZTP engine.
type CLI struct {
	outStream, errStream io.Writer
}

func NewCLI(out, err io.Writer) *CLI {
	return &CLI{outStream: out, errStream: err}
}

// overrides holds the CLI-flag values that take precedence over whatever
// is persisted in the Config Store file on disk.
type overrides struct {
	configPath     string
	configDir      string
	once           bool
	testMode       *bool
	adminMode      *bool
	logLevel       *string
	logFile        *string
	syslog         *bool
	syslogFacility *string
	pluginsDir     *string
	killSignal     os.Signal
}

// Run accepts a slice of arguments and returns an int representing the
// exit status from the command.
func (cli *CLI) Run(args []string) int {
	o, isVersion, err := cli.ParseFlags(args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			fmt.Fprintf(cli.errStream, usage, version.Name)
			return ExitCodeOK
		}
		fmt.Fprintln(cli.errStream, err.Error())
		return ExitCodeParseFlagsError
	}

	if isVersion {
		fmt.Fprintf(cli.errStream, "%s\n", version.HumanVersion())
		return ExitCodeOK
	}

	configPath := o.configPath
	if configPath == "" {
		configDir := o.configDir
		if configDir == "" {
			configDir = zconfig.DefaultString("ztp-cfg-dir")
		}
		configPath = filepath.Join(configDir, "ztp_cfg.json")
	}

	store, err := zconfig.Load(configPath)
	if err != nil {
		return logError(err, ExitCodeConfigError)
	}
	applyOverrides(store, o)

	if err := cli.setupLogging(store); err != nil {
		return logError(err, ExitCodeConfigError)
	}
	log.Printf("[INFO] %s", version.HumanVersion())

	sup, sink, err := cli.build(store, o)
	if sink != nil {
		defer sink.Close()
	}
	if err != nil {
		return logError(err, ExitCodeConfigError)
	}

	return sup.Run(context.Background())
}

// applyOverrides writes every CLI flag that was actually set into the
// Config Store in memory, so flag values win over file values for the
// rest of the run.
func applyOverrides(store *zconfig.Store, o *overrides) {
	if o.testMode != nil {
		store.Set("test-mode", *o.testMode)
	}
	if o.adminMode != nil {
		store.Set("admin-mode", *o.adminMode)
	}
	if o.logLevel != nil {
		store.Set("log-level", *o.logLevel)
	}
	if o.logFile != nil {
		store.Set("log-file", *o.logFile)
	}
	if o.syslog != nil {
		store.Set("syslog", *o.syslog)
	}
	if o.syslogFacility != nil {
		store.Set("syslog-facility", *o.syslogFacility)
	}
	if o.pluginsDir != nil {
		store.Set("plugins-dir", *o.pluginsDir)
	}
}

// build wires every component the supervisor needs: supervisor →
// discovery loop → document loader → execution engine → supervisor.
func (cli *CLI) build(store *zconfig.Store, o *overrides) (*supervisor.Supervisor, *activity.Sink, error) {
	tmpDir := store.GetString("ztp-tmp")
	tmpPersistent := store.GetString("ztp-tmp-persistent")

	downloader := download.New(tmpDir)
	env := document.Env{
		Downloader:                downloader,
		Identity:                  identity.Default(),
		TFTPServerHint:            readTrimmedOrEmpty(store.GetString("opt66-tftp-server")),
		Retries:                   store.GetInt("curl-retries"),
		UserAgent:                 store.GetString("http-user-agent"),
		IncludeHTTPHeadersDefault: store.GetBool("include-http-headers"),
	}

	docPaths := document.Paths{
		WorkingDocument: store.GetString("ztp-json"),
		ShadowDocument:  store.GetString("ztp-json-shadow"),
		TmpDir:          tmpDir,
		TmpPersistent:   tmpPersistent,
		SectionInput:    store.GetString("section-input-file"),
	}
	loader := document.New(docPaths, store, env)

	resolver := &plugin.Resolver{
		PluginsDir:    store.GetString("plugins-dir"),
		TmpPersistent: tmpPersistent,
		Env:           env,
	}

	sink, err := activity.Open(store.GetString("ztp-activity"))
	if err != nil {
		return nil, nil, err
	}

	discPaths := discovery.Paths{
		WorkingDocument: store.GetString("ztp-json"),
		LocalDocument:   store.GetString("ztp-json-local"),
		StartupConfig:   store.GetString("config-db-json"),
		Opt67URLFile:    store.GetString("opt67-url"),
		Opt59URLFile:    store.GetString("opt59-v6-url"),
		Opt66TFTPFile:   store.GetString("opt66-tftp-server"),
		Opt239URLFile:   store.GetString("opt239-url"),
		Opt239V6URLFile: store.GetString("opt239-v6-url"),
		GraphURLFile:    store.GetString("graph-url"),
		ACLURLFile:      store.GetString("acl-url"),
	}
	loop := discovery.New(discPaths, store, nil, downloaderAdapter{env})

	sup := &supervisor.Supervisor{
		Store:           store,
		Discover:        loop,
		Loader:          loader,
		Resolver:        resolver,
		Activity:        sink,
		Profile:         nil,
		StartupConfig:   store.GetString("config-db-json"),
		RestartFlag:     store.GetString("ztp-restart-flag"),
		TestMode:        store.GetBool("test-mode"),
		RequireRoot:     !store.GetBool("test-mode"),
		RestartZTPSleep: store.GetDuration("restart-ztp-interval"),
		Once:            o.once,
		Signal:          o.killSignal,
	}

	return sup, sink, nil
}

// downloaderAdapter satisfies discovery.Downloader by delegating a bare
// URL fetch to the shared Downloader, the same client every other URL
// download in this engine uses.
type downloaderAdapter struct {
	env document.Env
}

func (d downloaderAdapter) DownloadURL(ctx context.Context, source, dest string) error {
	_, _, err := d.env.Downloader.Get(ctx, download.Request{
		Source:         source,
		Destination:    dest,
		Retries:        d.env.Retries,
		UserAgent:      d.env.UserAgent,
		TFTPServerHint: d.env.TFTPServerHint,
	})
	return err
}

func readTrimmedOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ParseFlags is a helper function for parsing command line flags using
// Go's Flag library. This is extracted into a helper to keep Run small,
// but it also makes writing tests for parsing command line arguments
// much easier and cleaner.
func (cli *CLI) ParseFlags(args []string) (*overrides, bool, error) {
	var isVersion bool
	o := &overrides{}

	flags := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() {}

	flags.Var((funcVar)(func(s string) error {
		o.configPath = s
		return nil
	}), "config", "")

	flags.Var((funcVar)(func(s string) error {
		o.configDir = s
		return nil
	}), "config-dir", "")

	flags.BoolVar(&o.once, "once", false, "")

	flags.Var((funcBoolVar)(func(b bool) error {
		o.testMode = &b
		return nil
	}), "test-mode", "")

	flags.Var((funcBoolVar)(func(b bool) error {
		o.adminMode = &b
		return nil
	}), "admin-mode", "")

	flags.Var((funcVar)(func(s string) error {
		o.logLevel = &s
		return nil
	}), "log-level", "")

	flags.Var((funcVar)(func(s string) error {
		o.logFile = &s
		return nil
	}), "log-file", "")

	flags.Var((funcBoolVar)(func(b bool) error {
		o.syslog = &b
		return nil
	}), "syslog", "")

	flags.Var((funcVar)(func(s string) error {
		o.syslogFacility = &s
		return nil
	}), "syslog-facility", "")

	flags.Var((funcVar)(func(s string) error {
		o.pluginsDir = &s
		return nil
	}), "plugins-dir", "")

	flags.Var((funcVar)(func(s string) error {
		sig, err := signals.Parse(s)
		if err != nil {
			return err
		}
		o.killSignal = sig
		return nil
	}), "kill-signal", "")

	flags.BoolVar(&isVersion, "v", false, "")
	flags.BoolVar(&isVersion, "version", false, "")

	if err := flags.Parse(args); err != nil {
		return nil, false, err
	}

	if extra := flags.Args(); len(extra) > 0 {
		return nil, false, fmt.Errorf("cli: extra argument(s): %q", extra)
	}

	return o, isVersion, nil
}

// logError logs an error message and then returns the given status.
func logError(err error, status int) int {
	log.Printf("[ERR] (cli) %s", err)
	return status
}

func (cli *CLI) setupLogging(store *zconfig.Store) error {
	return logging.Setup(&logging.Config{
		SyslogName:     version.Name,
		Level:          store.GetString("log-level"),
		LogFilePath:    store.GetString("log-file"),
		Syslog:         store.GetBool("syslog"),
		SyslogFacility: store.GetString("syslog-facility"),
		Writer:         cli.errStream,
	})
}

const usage = `Usage: %s [options]

  Runs the zero-touch provisioning engine: discovers a provisioning
  document from one of several network sources, executes its sections in
  order, and decides whether to reboot, restart discovery, or terminate.

Options:

  -config=<path>
      Sets the path to the configuration file on disk, overriding
      "-config-dir"'s derived "ztp_cfg.json" location entirely.

  -config-dir=<path>
      Sets the directory holding "ztp_cfg.json". Defaults to "/host/ztp".
      The working and shadow document locations come from the
      configuration file and are not affected by this flag.

  -once
      Stop after the first discovery/execution cycle instead of looping
      on a restart decision.

  -test-mode
      Replace an immediate per-section reboot with a clean exit; a
      deferred document-level reboot is still honored.

  -admin-mode=<boolean>
      Overrides the "admin-mode" configuration key for this run.

  -log-level=<level>
      Set the logging level - values are "debug", "info", "warn", and
      "err"

  -log-file=<path>
      Sets the path to the log file sink.

  -syslog
      Send log output to syslog in addition to standard error.

  -syslog-facility=<facility>
      Set the facility where syslog should log - if this attribute is
      supplied, the -syslog flag must also be supplied

  -plugins-dir=<path>
      Overrides the directory plugins are resolved from.

  -kill-signal=<signal>
      Signal to listen to gracefully terminate the process

  -v, -version
      Print the version of this daemon
`
