// Command token prints a signed service token for the API.
package main

import (
	"fmt"
	"os"

	"github.com/seanblong/actasearch/internal/auth"
	"github.com/seanblong/actasearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("actasearch-token", pflag.ExitOnError)
	subject := fs.String("subject", "indexer", "Token subject")
	scopes := fs.StringSlice("scopes", []string{auth.ScopeRead}, "Comma separated scopes (read,ingest)")

	cfg, err := config.Load("", fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	for _, s := range *scopes {
		if s != auth.ScopeRead && s != auth.ScopeIngest {
			fmt.Fprintf(os.Stderr, "unknown scope %q\n", s)
			os.Exit(1)
		}
	}

	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, true)
	token, err := auth.GenerateJWT(*subject, *scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
