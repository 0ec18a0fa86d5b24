package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	iauth "github.com/lifelink/lifelink/internal/auth"
)

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "Issue an access token signed with the configured secret",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "user", Usage: "User ID to embed as the subject", Required: true},
		&cli.BoolFlag{Name: "admin", Usage: "Grant the administrator flag"},
		&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime (defaults to auth.jwt.access_token_ttl)"},
	},
	Action: issueToken,
}

func issueToken(cCtx *cli.Context) error {
	cfg, err := loadApplicationConfig(cCtx.String("config"))
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured to issue tokens")
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	if ttl := cCtx.Duration("ttl"); ttl > 0 {
		jwtCfg.AccessTokenTTL = ttl
	}
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	if err != nil {
		return err
	}

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:  strings.TrimSpace(cCtx.String("user")),
		IsAdmin: cCtx.Bool("admin"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cCtx.App.Writer, token)
	return nil
}
