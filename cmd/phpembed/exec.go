package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/worker"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file] [args...]",
		Short: "Execute a PHP script",
		Long: `Execute a PHP script and print its output. Without a file the project's
entry point is detected (Laravel, Symfony, WordPress, or index.php). Arguments
after the file are passed to the script as $argv.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return execJob(cmd, opts, cfg, func(w *worker.Worker) worker.Job {
				path := filepath.Join(w.Root(), w.Entry())
				if len(args) > 0 {
					path = args[0]
				}
				return worker.RunJob(path, false)
			}, func(cfg *config.Config) {
				if len(args) > 0 {
					cfg.PHP.Argv = args
				}
			})
		},
	}
	// Everything after the script belongs to the script.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newEvalCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <expr>",
		Short: "Evaluate a PHP expression and print its value",
		Example: `  phpembed eval '1 + 1'
  phpembed eval 'array_map("strtoupper", ["a", "b"])' --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return execJob(cmd, opts, cfg, func(*worker.Worker) worker.Job {
				return worker.EvalJob(args[0], false)
			}, nil)
		},
	}
}

func newCallCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <function> [args...]",
		Short: "Call a PHP function and print its return value",
		Long: `Call a PHP function. Arguments that parse as integers, floats, true, false,
null, or JSON arrays and objects are passed as such; anything else is a string.`,
		Example: `  phpembed call str_repeat ab 3
  phpembed call array_sum '[1, 2, 3.5]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			callArgs := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				v, err := parseArg(a)
				if err != nil {
					return &exitError{code: 2, err: err}
				}
				callArgs = append(callArgs, v)
			}
			return execJob(cmd, opts, cfg, func(*worker.Worker) worker.Job {
				return worker.CallJob(args[0], callArgs...)
			}, nil)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// parseArg turns a command line argument into the Go value passed to PHP.
func parseArg(s string) (any, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("argument %q: %w", s, err)
		}
		return integral(v), nil
	}
	return s, nil
}

// integral turns whole JSON numbers into int64 so PHP sees ints.
func integral(v any) any {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
	case []any:
		for i := range x {
			x[i] = integral(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = integral(x[k])
		}
	}
	return v
}

// execJob runs one job on a fresh worker and prints the result.
func execJob(cmd *cobra.Command, opts *RootOptions, cfg *config.Config, job func(*worker.Worker) worker.Job, adjust func(*config.Config)) error {
	if adjust != nil {
		adjust(cfg)
	}
	logger, closer := newLogger(cfg, true)
	if closer != nil {
		defer closer.Close()
	}

	w := worker.New(cfg, logger)
	w.Start()
	defer w.Stop()

	j := job(w)
	res, err := w.Exec(cmd.Context(), j)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), opts.Format, j.Kind, res)
}

type jsonResult struct {
	Type       string  `json:"type"`
	Value      any     `json:"value"`
	Exception  bool    `json:"exception,omitempty"`
	Output     string  `json:"output"`
	DurationMS float64 `json:"duration_ms"`
}

// printResult writes the script output followed by the value. Run jobs
// print only their output, like the php binary does.
func printResult(w io.Writer, format string, kind worker.Kind, res *worker.Result) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(jsonResult{
			Type:       res.Type,
			Value:      res.Value,
			Exception:  res.Exception,
			Output:     string(res.Output),
			DurationMS: float64(res.Duration.Microseconds()) / 1000,
		})
	}

	if _, err := w.Write(res.Output); err != nil {
		return err
	}
	if kind == worker.KindRun {
		if res.Exception {
			return &exitError{code: 255, err: fmt.Errorf("uncaught exception: %s", res.Dump)}
		}
		return nil
	}
	if len(res.Output) > 0 && !strings.HasSuffix(string(res.Output), "\n") {
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintln(w, formatValue(res))
	return err
}

func formatValue(res *worker.Result) string {
	if res.Dump != "" {
		return res.Dump
	}
	switch v := res.Value.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(v)
	case string:
		return strconv.Quote(v)
	}
	return fmt.Sprint(res.Value)
}
