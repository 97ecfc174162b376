package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/goplus/extdep/internal/config"
	"github.com/goplus/extdep/internal/descriptor"
	"github.com/goplus/extdep/internal/env"
	"github.com/goplus/extdep/internal/logger"
	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/toolfinder"
	"github.com/goplus/extdep/pkgs/buildsys"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

const version = "0.1.0"

// defaultConfigFile is read when --config is not given and it exists.
const defaultConfigFile = "extdep.yaml"

var (
	configFile      string
	platformName    string
	buildThreads    int
	workDir         string
	verbose         int
	logLevel        string
	logJSON         bool
	toolConfigFiles []string
	constraints     map[string]string
)

// newRunner is replaced in tests.
var newRunner = func() run.Runner { return run.NewExec() }

var rootCmd = &cobra.Command{
	Use:           "extdep",
	Short:         "extdep fetches and builds external dependencies",
	Long:          `extdep downloads or clones the external dependencies listed in a recipe, patches them and builds them with CMake.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "configuration file (default "+defaultConfigFile+" when present)")
	pf.StringVar(&platformName, "platform", "", "target platform, defaults to the host platform")
	pf.IntVar(&buildThreads, "threads", buildsys.ThreadsAuto, "build threads, -1 uses every CPU and 0 leaves it to the build tool")
	pf.StringVar(&workDir, "work-dir", "", "directory for downloads, sources, builds and installs")
	pf.CountVarP(&verbose, "verbose", "v", "verbose output, repeat for more")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error or disabled")
	pf.BoolVar(&logJSON, "log-json", false, "log in JSON")
	pf.StringSliceVar(&toolConfigFiles, "tool-config", nil, "XML tool configuration files")
	pf.StringToStringVar(&constraints, "constraint", nil, "variant constraints, config=Debug selects the active variant")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger(nil).Error(err.Error())
		os.Exit(1)
	}
}

// session holds what every command needs: the configuration, the logger
// and the directories and tools the builds use.
type session struct {
	cfg        *config.Config
	host       platform.Host
	log        logger.Logger
	record     *config.Record
	tools      *toolfinder.Finder
	layout     *env.Layout
	toolConfig *descriptor.ToolConfig
}

func newSession(cmd *cobra.Command, args []string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.Log.Level),
		Output:     cmd.ErrOrStderr(),
		JSON:       cfg.Log.JSON,
		TimeFormat: "15:04:05",
	})
	host := platform.DetectHost()
	record, err := config.NewRecord(cfg, host, version, cmd.Name(), args, constraints)
	if err != nil {
		return nil, err
	}
	tools, err := toolfinder.New(host, cfg.Tools)
	if err != nil {
		return nil, err
	}
	if missing := tools.Discover("cmake", "ninja", "git"); len(missing) > 0 {
		log.Debug("tools not found on PATH", "tools", missing)
	}
	layout, err := env.NewLayout(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, host: host, log: log, record: record, tools: tools, layout: layout}
	if len(toolConfigFiles) > 0 {
		if s.toolConfig, err = descriptor.LoadToolConfigs(toolConfigFiles...); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadConfig reads the configuration; flags given on the command line
// override every other source.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file := configFile
	if file == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			file = defaultConfigFile
		}
	}
	flags := map[string]any{}
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("platform") {
		flags["platform"] = platformName
	}
	if changed("threads") {
		flags["build_threads"] = buildThreads
	}
	if changed("work-dir") {
		flags["work_dir"] = workDir
	}
	if changed("log-json") {
		flags["log.json"] = logJSON
	}
	if verbose > 0 {
		flags["verbosity"] = verbose
		flags["log.level"] = "debug"
	}
	if changed("log-level") {
		flags["log.level"] = logLevel
	}
	return config.Load(config.Options{
		File:     file,
		EnvFiles: []string{".env"},
		Flags:    flags,
	})
}

// orchestrator returns the cmake orchestrator for the session platform
// and checks the installed cmake is recent enough.
func (s *session) orchestrator(ctx context.Context, runner run.Runner, extra ...cmake.Option) (*cmake.Orchestrator, error) {
	opts := []cmake.Option{
		cmake.WithRunner(runner),
		cmake.WithLogger(s.log),
		cmake.WithBuildThreads(s.record.BuildThreads),
		cmake.WithTools(s.tools),
		cmake.WithAndroid(cmake.Android{
			ABI:      s.cfg.CMake.Android.ABI,
			APILevel: s.cfg.CMake.Android.APILevel,
			NDK:      s.cfg.CMake.Android.NDK,
		}),
	}
	minVersion := s.cfg.CMake.MinVersion
	if s.toolConfig != nil && s.toolConfig.CMake != nil {
		if minVersion == "" {
			minVersion = s.toolConfig.CMake.MinVersion
		}
		if p, ok := s.toolConfig.CMake.Platform(s.record.PlatformName); ok && p.DefaultGeneratorName != "" {
			g, err := buildsys.ParseGenerator(p.DefaultGeneratorName)
			if err != nil {
				return nil, fmt.Errorf("tool config platform %s: %w", p.Name, err)
			}
			opts = append(opts, cmake.WithGenerator(g))
		}
	}
	opts = append(opts, extra...)

	o, err := cmake.New(s.record.PlatformName, s.host, opts...)
	if err != nil {
		var unsupported *buildsys.UnsupportedGeneratorError
		if errors.As(err, &unsupported) {
			return nil, fmt.Errorf("platform %s: %w", s.record.PlatformName, err)
		}
		return nil, err
	}
	s.record.Generator = o.Generator()
	if err := o.CheckVersion(ctx, minVersion); err != nil {
		return nil, err
	}
	return o, nil
}
