package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/logger"
	"github.com/vulu-live/liveconn/pkg/provider"
	"github.com/vulu-live/liveconn/pkg/service"
	"github.com/vulu-live/liveconn/pkg/session"
	"github.com/vulu-live/liveconn/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to liveconn config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "liveconn config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"LIVECONN_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "app-id",
		Usage:   "application id handed to the transport provider",
		EnvVars: []string{"LIVECONN_APP_ID"},
	},
	&cli.StringFlag{
		Name:    "token-url",
		Usage:   "base URL of the credential service",
		EnvVars: []string{"LIVECONN_TOKEN_URL"},
	},
	&cli.StringFlag{
		Name:    "api-key",
		Usage:   "api key for the credential service",
		EnvVars: []string{"LIVECONN_API_KEY"},
	},
	&cli.StringFlag{
		Name:    "api-secret",
		Usage:   "api secret for the credential service",
		EnvVars: []string{"LIVECONN_API_SECRET"},
	},
	&cli.UintFlag{
		Name:  "prometheus-port",
		Usage: "port to serve prometheus metrics on",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and uses a loopback provider with static tokens. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:        "liveconn",
		Usage:       "Live session connection and recovery manager",
		Description: "run without subcommands to join a channel and hold the session open",
		Flags: append(baseFlags,
			&cli.StringFlag{
				Name:  "channel",
				Usage: "name of channel to join",
				Value: "dev-channel",
			},
			&cli.StringFlag{
				Name:  "identity",
				Usage: "identity of the local participant",
				Value: "dev-user",
			},
			&cli.BoolFlag{
				Name:  "host",
				Usage: "join as host (publish media) instead of audience",
			},
		),
		Action:  runSession,
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := !c.Bool("disable-strict-config")
	conf, err := config.NewConfig(confString, strictMode, c)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if conf.Development && conf.AppID == "" {
		logger.Infow("no app id provided, using placeholder", "appId", "dev-app")
		conf.AppID = "dev-app"
	}
	return conf, nil
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}
	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}
	return string(outConfigBody), nil
}

func runSession(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if err = conf.Validate(); err != nil {
		return err
	}

	var tokens credentials.TokenService
	if conf.Credentials.ServiceURL != "" {
		tokens = credentials.NewHTTPTokenService(conf.Credentials)
	} else if conf.Development {
		tokens = &credentials.StaticTokenService{}
	} else {
		return config.ErrTokenServiceURL
	}

	svc := service.NewSessionService(service.SessionServiceParams{
		Config:  conf,
		Service: tokens,
		Factory: &provider.LoopbackFactory{EventBufferSize: conf.Session.EventBufferSize},
	})
	if err = svc.Start(); err != nil {
		return err
	}
	defer svc.Close()

	svc.OnStateChanged("main", func() {
		state := svc.GetConnectionState()
		logger.Infow("connection state changed",
			"state", state.State.String(),
			"participants", state.ParticipantCount,
			"error", state.LastError,
		)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := svc.Join(ctx, session.JoinRequest{
		Channel:  c.String("channel"),
		Identity: c.String("identity"),
		IsHost:   c.Bool("host"),
	})
	if err != nil {
		logger.Warnw("initial join failed, invoking recovery", err)
		if rec := svc.Recover(ctx, err); !rec.Success {
			return fmt.Errorf("could not recover session: %w", err)
		}
	} else {
		logger.Infow("joined channel",
			"channel", res.Channel,
			"uid", res.UID,
			"role", res.Role.String(),
		)
	}

	<-ctx.Done()
	logger.Infow("shutting down")
	svc.Leave()
	return nil
}
