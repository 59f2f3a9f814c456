package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure"
	"github.com/master-wayne7/gitpure/internal/logging"
)

const (
	keyLogLevel        = "log-level"
	keyUserAgent       = "user-agent"
	keyTimeout         = "timeout"
	keyCheckoutWorkers = "checkout-workers"
	keyRepo            = "repo"

	envPrefix = "GITPURE"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "gitpure",
		Short: "A small pure-Go git client",
		Long: `gitpure clones repositories over smart HTTP, bare or with a working tree,
and inspects the objects and branches of local repositories.

Every flag can also be set in gitpure.yaml (looked up in . and $HOME/.gitpure,
or named by $GITPURE_CONFIG) or through GITPURE_<FLAG> environment variables.`,
		Version:           gitpure.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initConfig,
	}

	addGlobalFlags(cmd.PersistentFlags())
	_ = a.v.BindPFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newCloneCmd(a),
		newBranchesCmd(a),
		newInitCmd(a),
		newCatFileCmd(a),
		newLsTreeCmd(a),
		newHashObjectCmd(a),
	)
	return cmd
}

func addGlobalFlags(pf *pflag.FlagSet) {
	pf.String(keyLogLevel, logging.LevelNone, "Log level: none, debug, info, warn or error")
	pf.String(keyUserAgent, gitpure.DefaultUserAgent, "User agent sent to servers")
	pf.Duration(keyTimeout, 0, "Abort after this long (0 means no limit)")
	pf.Int(keyCheckoutWorkers, 8, "Files written concurrently during checkout")
	pf.String(keyRepo, ".", "Path of the repository to operate on")
}

// initConfig reads the config file and environment, then builds the logger.
func (a *app) initConfig(_ *cobra.Command, _ []string) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if file := os.Getenv(envPrefix + "_CONFIG"); file != "" {
		a.v.SetConfigFile(file)
	} else {
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME/.gitpure")
		a.v.SetConfigName("gitpure")
	}
	if err := a.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}

	logger, err := logging.GetLogger(a.v.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	a.logger = logger
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", zap.String("path", used))
	}
	return nil
}

func (a *app) options() []gitpure.Option {
	return []gitpure.Option{
		gitpure.WithLogger(a.logger),
		gitpure.WithUserAgent(a.v.GetString(keyUserAgent)),
		gitpure.WithCheckoutWorkers(a.v.GetInt(keyCheckoutWorkers)),
	}
}

// context is cancelled on interrupt or when the configured timeout expires.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	timeout := a.v.GetDuration(keyTimeout)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) openRepo() (*gitpure.Repository, error) {
	return gitpure.Open(a.v.GetString(keyRepo), a.options()...)
}
