package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeloQi/service"
	"github.com/spf13/cobra"

	"github.com/EasyDarwin/StreamStudio/api"
	"github.com/EasyDarwin/StreamStudio/backend"
	"github.com/EasyDarwin/StreamStudio/encoder"
	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/routers"
	"github.com/EasyDarwin/StreamStudio/tui"
	"github.com/EasyDarwin/StreamStudio/utils"
)

const (
	pythonRequiredTitle = "Python Required"
	pythonRequiredBody  = "Python is required to run Twitch Stream Studio. Please install Python from python.org"
)

var (
	cfgFile  string
	logLevel string

	clientID     string
	clientSecret string
	streamKey    string
)

var rootCmd = &cobra.Command{
	Use:   "streamstudio",
	Short: "Twitch Stream Studio",
	Long:  "Terminal studio for streaming the desktop to Twitch through the local streaming backend.",
	Run: func(cmd *cobra.Command, args []string) {
		runStudio()
	},
}

var serveCmd = &cobra.Command{
	Use:       "serve [install|uninstall|start|stop]",
	Short:     "Run headless with the HTTP control surface, or control the system service",
	ValidArgs: []string{"install", "uninstall", "start", "stop"},
	Args:      cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runServe(args)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the streaming backend health endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		res, err := newClient(cfg).Health(cmd.Context())
		if err != nil {
			fail(err)
		}
		printJSON(res)
		if !res.Healthy() {
			os.Exit(1)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate Twitch credentials with the backend",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		res, err := newClient(cfg).ValidateCredentials(cmd.Context(), flagCredentials())
		if err != nil {
			fail(err)
		}
		printJSON(res)
		if !res.Valid {
			os.Exit(1)
		}
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Drive the backend stream without the studio",
}

var streamStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Ask the backend to start streaming",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		req, err := startRequest(cfg, flagCredentials())
		if err != nil {
			fail(err)
		}
		res, err := newClient(cfg).StartStream(cmd.Context(), req)
		if err != nil {
			fail(err)
		}
		printJSON(res)
	},
}

var streamStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the backend to stop streaming",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		res, err := newClient(cfg).StopStream(cmd.Context())
		if res != nil {
			printJSON(res)
		}
		if err != nil {
			fail(err)
		}
	},
}

var streamStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backend stream status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		res, err := newClient(cfg).StreamStatus(cmd.Context())
		if err != nil {
			fail(err)
		}
		printJSON(res)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Look for FFmpeg and a Python interpreter",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		ok := true
		if info, err := encoder.Probe(cmd.Context(), cfg.Encoder.Binary); err != nil {
			ok = false
			fmt.Printf("ffmpeg:  not found (%v)\n        download: %s\n", err, cfg.Encoder.DownloadURL)
		} else {
			fmt.Printf("ffmpeg:  %s %s\n", info.Binary, info.Version)
		}
		bc := backend.ConfigFrom(cfg.Backend, cfg.LogFile())
		if interp, err := backend.FindInterpreter(cmd.Context(), bc.Interpreters); err != nil {
			ok = false
			fmt.Printf("python:  not found (%v)\n", err)
		} else {
			fmt.Printf("python:  %s\n", interp)
		}
		fmt.Printf("backend: %s\n", backend.ResolveBaseDir(bc))
		if !ok {
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("streamstudio %s built %s\n", routers.BuildVersion, routers.BuildDateTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	for _, c := range []*cobra.Command{validateCmd, streamStartCmd} {
		c.Flags().StringVar(&clientID, "client-id", "", "Twitch client id")
		c.Flags().StringVar(&clientSecret, "client-secret", "", "Twitch client secret")
	}
	streamStartCmd.Flags().StringVar(&streamKey, "stream-key", "", "Twitch stream key")

	streamCmd.AddCommand(streamStartCmd, streamStopCmd, streamStatusCmd)
	rootCmd.AddCommand(serveCmd, healthCmd, validateCmd, streamCmd, probeCmd, versionCmd)
}

func main() {
	if gitCommitCode != "" {
		routers.BuildVersion = fmt.Sprintf("%s.%s", routers.BuildVersion, gitCommitCode)
	}
	routers.BuildDateTime = buildDateTime
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mustConfig() *utils.Config {
	cfg, err := utils.LoadConfig(cfgFile)
	if err != nil {
		fail(err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log.SetLevel(cfg.Log.Level)
	return cfg
}

func newClient(cfg *utils.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL, api.WithTimeout(cfg.API.Timeout))
}

func flagCredentials() models.Credentials {
	return models.Credentials{ClientID: clientID, ClientSecret: clientSecret, StreamKey: streamKey}
}

var errCredentialsRequired = errors.New("--client-id and --client-secret are required")

// startRequest builds the start body. The stream key is optional, as it is
// in the studio.
func startRequest(cfg *utils.Config, creds models.Credentials) (models.StartStreamRequest, error) {
	if !creds.Complete() {
		return models.StartStreamRequest{}, errCredentialsRequired
	}
	return models.StartStreamRequest{Credentials: creds, StreamConfig: streamConfig(cfg)}, nil
}

func streamConfig(cfg *utils.Config) models.StreamConfig {
	return models.StreamConfig{
		Width:     cfg.Stream.Width,
		Height:    cfg.Stream.Height,
		FrameRate: cfg.Stream.FrameRate,
		Bitrate:   cfg.Stream.Bitrate,
	}
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(b))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// exitIfFatal reports a missing interpreter the way the desktop build did
// and exits.
func exitIfFatal(p *program, err error) {
	var fatal *backend.FatalError
	if !errors.As(err, &fatal) {
		return
	}
	log.Error(err)
	p.shutdown()
	log.CloseLogWriters()
	fmt.Fprintf(os.Stderr, "%s\n\n%s\n", pythonRequiredTitle, pythonRequiredBody)
	os.Exit(1)
}

// runStudio runs the terminal UI. Logs go to a file so they do not tear
// the screen.
func runStudio() {
	cfg := mustConfig()
	log.UseFile(cfg.LogFile(), "streamstudio.log", false)
	defer log.CloseLogWriters()

	ctx, stop := signalContext()
	defer stop()

	p := newProgram(cfg, false)
	exitIfFatal(p, p.boot())
	defer p.shutdown()

	err := tui.Run(tui.Options{
		Studio:      p.studio,
		Context:     ctx,
		OpenURL:     utils.OpenBrowser,
		DownloadURL: cfg.Encoder.DownloadURL,
		Usage:       p.usage,
		Preview:     p.preview.Summary,
	})
	if err != nil {
		log.Error("tui: ", err)
	}
}

// runServe runs headless under the service manager, or forwards a control
// action to it.
func runServe(args []string) {
	cfg := mustConfig()
	log.UseFile(cfg.LogFile(), "streamstudio.log", log.IsDebug())

	svcConfig := &service.Config{
		Name:        cfg.Service.Name,
		DisplayName: cfg.Service.DisplayName,
		Description: cfg.Service.Description,
	}
	if cfg.File != "" {
		svcConfig.Arguments = []string{"serve", "--config", cfg.File}
	} else {
		svcConfig.Arguments = []string{"serve"}
	}

	p := newProgram(cfg, true)
	s, err := service.New(p, svcConfig)
	if err != nil {
		log.Error(err)
		log.CloseLogWriters()
		os.Exit(1)
	}

	if len(args) > 0 {
		log.Info(svcConfig.Name, " ", args[0], "...")
		if err = service.Control(s, args[0]); err != nil {
			log.Error(err)
			log.CloseLogWriters()
			os.Exit(1)
		}
		log.Info(svcConfig.Name, " ", args[0], " ok")
		log.CloseLogWriters()
		return
	}

	fmt.Print(utils.Banner(cfg.Service.Name))

	if err = s.Run(); err != nil {
		exitIfFatal(p, err)
		log.Error(err)
	}
}
