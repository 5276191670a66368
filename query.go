package loadpipe

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// QueryExecutor runs one query and returns the tool's raw output. Stdout is
// opaque; nothing here parses query results.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) (*Result, error)
}

// CommandExecutor shells out to the query tool through a Runner.
type CommandExecutor struct {
	runner  Runner
	command []string
	format  string
	host    string
	port    string
	timeout time.Duration
}

func NewCommandExecutor(cfg *Config, runner Runner) *CommandExecutor {
	command := cfg.QueryCommand
	if len(command) == 0 {
		command = []string{defaultQueryPath}
	}
	return &CommandExecutor{
		runner:  runner,
		command: command,
		format:  cfg.QueryFormat,
		host:    cfg.LoaderHost,
		port:    cfg.LoaderPort,
		timeout: cfg.QueryTimeout,
	}
}

// Arguments returns the query tool arguments for query.
func (e *CommandExecutor) Arguments(query string) []string {
	args := append([]string{}, e.command[1:]...)
	if e.format != "" {
		args = append(args, "-o", e.format)
	}
	if e.host != "" {
		args = append(args, "-c", e.host)
	}
	if e.port != "" {
		args = append(args, "-p", e.port)
	}
	return append(args, "-aq", query)
}

func (e *CommandExecutor) Execute(ctx context.Context, query string) (*Result, error) {
	cmd := &Command{
		Path:    e.command[0],
		Args:    e.Arguments(query),
		Timeout: e.timeout,
	}
	logger.Debugf("query: %s", strings.Join(cmd.Argv(), " "))
	result, err := e.runner.Run(ctx, cmd)
	if err != nil {
		return result, errors.Wrapf(err, "execute %q", query)
	}
	return result, nil
}

// QueryError is a query the tool ran but rejected.
type QueryError struct {
	Name     string
	Query    string
	ExitCode int
	Stderr   []byte
}

func (e *QueryError) Error() string {
	message := fmt.Sprintf("query %s (%s) exited with status %d", e.Name, e.Query, e.ExitCode)
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		message += ": " + stderr
	}
	return message
}

// FavoriteParams fills in the favorite query templates.
type FavoriteParams struct {
	Array     string
	Attribute string
}

// DefaultFavorites returns the built-in favorite queries.
func DefaultFavorites() map[string]string {
	return map[string]string{
		"count":      "aggregate({{.Array}}, count(*))",
		"show":       "show({{.Array}})",
		"dimensions": "dimensions({{.Array}})",
		"attributes": "attributes({{.Array}})",
		"summary":    "aggregate({{.Array}}, count({{.Attribute}}), min({{.Attribute}}), max({{.Attribute}}), avg({{.Attribute}}))",
	}
}

// Favorites is a catalogue of named query templates.
type Favorites struct {
	templates map[string]*template.Template
	needsAttr map[string]bool
}

func NewFavorites(defs map[string]string) (*Favorites, error) {
	f := &Favorites{
		templates: make(map[string]*template.Template, len(defs)),
		needsAttr: make(map[string]bool, len(defs)),
	}
	for name, text := range defs {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, errors.Wrapf(ErrUsage, "favorite %s: %v", name, err)
		}
		f.templates[name] = tmpl
		f.needsAttr[name] = strings.Contains(text, ".Attribute")
	}
	return f, nil
}

func (f *Favorites) Names() []string {
	names := make([]string, 0, len(f.templates))
	for name := range f.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format renders one favorite query.
func (f *Favorites) Format(name string, p FavoriteParams) (string, error) {
	tmpl, ok := f.templates[name]
	if !ok {
		return "", errors.Wrapf(ErrUsage, "unknown favorite %q (have %s)", name, strings.Join(f.Names(), ", "))
	}
	if p.Array == "" {
		return "", errors.Wrapf(ErrUsage, "favorite %s needs an array name", name)
	}
	if f.needsAttr[name] && p.Attribute == "" {
		return "", errors.Wrapf(ErrUsage, "favorite %s needs an attribute name", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, p); err != nil {
		return "", errors.Wrapf(err, "format favorite %s", name)
	}
	return sb.String(), nil
}

// RunFavorites runs the named favorites in order, copying each result to
// out. It stops at the first query that fails.
func RunFavorites(ctx context.Context, exec QueryExecutor, favs *Favorites, names []string, p FavoriteParams, out io.Writer) error {
	for _, name := range names {
		query, err := favs.Format(name, p)
		if err != nil {
			return err
		}
		result, err := exec.Execute(ctx, query)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return &QueryError{Name: name, Query: query, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		if _, err := fmt.Fprintf(out, "-- %s: %s\n", name, query); err != nil {
			return err
		}
		writeTerminated(out, result.Stdout)
	}
	return nil
}
