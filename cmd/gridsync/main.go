package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.gridsync.dev/core/grid/sheets"
	mbp "go.gridsync.dev/core/mainboilerplate"
	"go.gridsync.dev/core/mirror"
	"go.gridsync.dev/core/state"
)

const iniFilename = "gridsync.ini"

// Config is the top-level configuration object of a gridsync worker.
var Config = new(struct {
	Mirror mirror.Config `group:"Mirror" namespace:"mirror" env-namespace:"MIRROR"`

	Auth struct {
		CredentialsFile string `long:"credentials-file" env:"CREDENTIALS_FILE" description:"Path of a service-account credentials JSON file. GOOGLE_SERVICE_ACCOUNT_JSON is read if unset"`
	} `group:"Auth" namespace:"auth" env-namespace:"AUTH"`

	State struct {
		Path string `long:"path" env:"PATH" default:"gridsync-state.db" description:"Path of the SQLite dedup-state database. An in-memory store is used if empty"`
	} `group:"State" namespace:"state" env-namespace:"STATE"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type cmdRun struct{}

func (cmdRun) Execute(args []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("starting gridsync")

	mbp.Must(Config.Mirror.Validate(), "invalid configuration")

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		var sig = <-signalCh
		log.WithField("signal", sig).Info("caught signal; stopping cleanly")
		cancel()
	}()

	var credentials, err = loadCredentials()
	mbp.Must(err, "loading service-account credentials")

	provider, err := sheets.NewProvider(ctx, credentials)
	mbp.Must(err, "building sheets provider")

	var store state.Store
	if Config.State.Path != "" {
		store, err = state.NewSQLiteStore(Config.State.Path)
		mbp.Must(err, "opening state database", "path", Config.State.Path)
	} else {
		store = state.NewMemoryStore()
	}
	defer store.Close()

	flows, err := Config.Mirror.Flows()
	mbp.Must(err, "loading flow definitions")

	var runner = &mirror.Runner{
		Provider: provider,
		Store:    store,
		Flows:    flows,
		Config:   &Config.Mirror,
	}
	results, err := runner.Run(ctx)
	mbp.Must(err, "synchronization run failed")

	var total mirror.Counts
	for _, counts := range results {
		total.Add(counts)
	}
	log.WithFields(log.Fields{
		"flows":    len(results),
		"scanned":  total.Scanned,
		"appended": total.Appended,
	}).Info("all flows done")

	return nil
}

// loadCredentials resolves service-account JSON from the configured file,
// or from the GOOGLE_SERVICE_ACCOUNT_JSON environment variable.
func loadCredentials() ([]byte, error) {
	if Config.Auth.CredentialsFile != "" {
		return os.ReadFile(Config.Auth.CredentialsFile)
	}
	if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"); v != "" {
		return []byte(v), nil
	}
	return nil, errors.New("no credentials: set --auth.credentials-file or GOOGLE_SERVICE_ACCOUNT_JSON")
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("run", "Run one synchronization pass", `
Run scans each registered source spreadsheet, appends rows not yet mirrored
to the consolidated destination, and persists dedup state so the next run
resumes where this one stopped.
`, &cmdRun{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
