package bootstrap

import (
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	hclog "github.com/hashicorp/go-hclog"

	compilerinadapter "twirlhost/internal/modules/compiler/adapter/in"
	compileroutadapter "twirlhost/internal/modules/compiler/adapter/out"
	compilerservice "twirlhost/internal/modules/compiler/service"
	compilerusecase "twirlhost/internal/modules/compiler/usecase"
	"twirlhost/internal/platform/clock"
	"twirlhost/internal/platform/config"
	"twirlhost/internal/platform/id"
	"twirlhost/internal/platform/logging"
	compileview "twirlhost/internal/ui/views/compile"
)

type App struct {
	Config      config.Config
	Logger      hclog.Logger
	CompilerCLI compilerinadapter.CLIHandler

	closers []func() error
}

// New wires the compiler module. logOut receives host and sandbox logs;
// nil discards them.
func New(cfg config.Config, logOut io.Writer) (*App, error) {
	logger := logging.Discard()
	if logOut != nil {
		logger = logging.New("twirlhost", cfg.LogLevel, logOut)
	}
	app := &App{Config: cfg, Logger: logger}

	artifacts := compileroutadapter.NewFileArtifactStore(cfg.Artifacts, cfg.ProjectRoot)
	provider := compileroutadapter.NewPluginProvider(artifacts, compileroutadapter.PluginProviderOptions{
		StartTimeout: cfg.StartTimeout,
		CallTimeout:  cfg.CallTimeout,
		Logger:       logger,
	})
	envs, err := compileroutadapter.NewEnvironmentCache(provider, cfg.CacheSize, logger.Named("environments"))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, envs.Close)

	ledger, err := compileroutadapter.NewSQLiteLedger(cfg.Ledger)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("new compile ledger: %w", err)
	}
	app.closers = append(app.closers, ledger.Close)

	svc := compilerservice.NewCompilerService(
		compilerservice.DefaultRegistry(),
		artifacts,
		envs,
		ledger,
		compileroutadapter.NewFSWatcher(0, logger.Named("watch")),
		clock.SystemClock{},
		id.UUID{},
		logger.Named("compiler"),
	)
	app.CompilerCLI = compilerinadapter.NewCLIHandler(compilerusecase.NewInteractor(svc))
	return app, nil
}

// Close stops every sandbox process and closes the ledger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunCompileTUI shows run's results in a full-screen progress view and
// returns run's error.
func RunCompileTUI(title, sourceRoot string, run compileview.Runner) error {
	program := tea.NewProgram(compileview.New(title, sourceRoot, run), tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return err
	}
	if model, ok := final.(compileview.Model); ok {
		return model.Err()
	}
	return nil
}
