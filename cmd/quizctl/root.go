package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// options - общие флаги всех команд
type options struct {
	server    string
	token     string
	tokenFile string
	timeout   time.Duration
	jsonOut   bool
	noColor   bool
}

func (o *options) validate() error {
	if o.server == "" {
		return errors.New("--server must not be empty")
	}
	if !strings.HasPrefix(o.server, "http://") && !strings.HasPrefix(o.server, "https://") {
		return fmt.Errorf("--server must start with http:// or https://, got %q", o.server)
	}
	return nil
}

// adminToken возвращает токен оператора из флага, окружения или файла после login
func (o *options) adminToken() (string, error) {
	if o.token != "" {
		return o.token, nil
	}
	data, err := os.ReadFile(o.tokenFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("not logged in: run `quizctl login` or set QUIZCTL_TOKEN")
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func (o *options) adminClient() (*apiClient, error) {
	token, err := o.adminToken()
	if err != nil {
		return nil, err
	}
	c := o.client()
	c.token = token
	return c, nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".quizctl_token"
	}
	return filepath.Join(dir, "quizctl", "token")
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	opts := &options{}

	cmd := &cobra.Command{
		Use:           "quizctl",
		Short:         "Управление живыми сессиями викторины и терминальный игрок.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(v, cmd.Flags())
			if opts.noColor {
				color.NoColor = true
			}
			return opts.validate()
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(normalizeFlag)
	fs.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "API base URL (env: QUIZCTL_SERVER)")
	fs.StringVar(&opts.token, "token", "", "admin token, overrides the saved one (env: QUIZCTL_TOKEN)")
	fs.StringVar(&opts.tokenFile, "token-file", defaultTokenFile(), "where login stores the admin token (env: QUIZCTL_TOKEN_FILE)")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP request timeout (env: QUIZCTL_TIMEOUT)")
	fs.BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses (env: QUIZCTL_JSON)")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored output (env: QUIZCTL_NO_COLOR)")

	cmd.AddCommand(
		newLoginCmd(opts),
		newSessionCmd(opts),
		newRankingCmd(opts),
		newExportCmd(opts),
		newPlayCmd(opts),
		newMigrateCmd(),
		newHashPasswordCmd(),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizctl v{{.Version}}\n")

	return cmd
}

func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// bindFlags подставляет значения из окружения во флаги, не заданные явно
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
