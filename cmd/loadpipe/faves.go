package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	lp "github.com/datafuselabs/loadpipe"
)

// runFaves runs favorite queries against an array:
//
//	loadpipe faves --array trades count summary --attr price
func runFaves(args []string, stdout, stderr io.Writer) int {
	var (
		configPath   string
		array        string
		attribute    string
		queryCommand string
		list         bool
		verbosity    countFlag
	)
	fs := flag.NewFlagSet("loadpipe faves", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: loadpipe faves [flags] [name...]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&configPath, "config", "", "TOML config file")
	fs.StringVar(&array, "array", "", "array the queries run against")
	fs.StringVar(&attribute, "attr", "", "attribute used by per-attribute favorites")
	fs.StringVar(&queryCommand, "query-command", "", "query tool command line")
	fs.BoolVar(&list, "list", false, "print the favorite queries and exit")
	fs.Var(&verbosity, "v", "increase logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg := lp.NewConfig()
	if configPath != "" {
		if err := lp.LoadConfigFile(configPath, cfg); err != nil {
			fmt.Fprintf(stderr, "loadpipe: %v\n", err)
			return exitUsage
		}
	}
	if array != "" {
		cfg.Array = array
	}
	if attribute != "" {
		cfg.Attribute = attribute
	}
	if queryCommand != "" {
		cfg.QueryCommand = strings.Fields(queryCommand)
	}
	applyEnv(cfg)
	_ = lp.GetLogger().SetLogLevel(lp.VerbosityLevel(int(verbosity)))

	favs, err := lp.NewFavorites(cfg.Favorites)
	if err != nil {
		fmt.Fprintf(stderr, "loadpipe: %v\n", err)
		return exitUsage
	}
	names := fs.Args()
	if list || len(names) == 0 {
		for _, name := range favs.Names() {
			query, err := favs.Format(name, lp.FavoriteParams{Array: "<array>", Attribute: "<attr>"})
			if err != nil {
				query = err.Error()
			}
			fmt.Fprintf(stdout, "%-12s %s\n", name, query)
		}
		return exitOK
	}

	exec := lp.NewCommandExecutor(cfg, lp.NewExecRunner(cfg))
	params := lp.FavoriteParams{Array: cfg.Array, Attribute: cfg.Attribute}
	if err := lp.RunFavorites(context.Background(), exec, favs, names, params, stdout); err != nil {
		if errors.Is(err, lp.ErrUsage) {
			fmt.Fprintf(stderr, "loadpipe: %v\n", err)
			return exitUsage
		}
		log.Errorf("faves: %v", err)
		return exitFailure
	}
	return exitOK
}
