package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carelink/internal/emitter"
	"github.com/roach88/carelink/internal/mutation"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Timeout time.Duration
}

// WriteResult reports a write that the database accepted.
type WriteResult struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

func (r WriteResult) String() string {
	return fmt.Sprintf("%s %s: ok", r.Kind, r.Path)
}

// Write kinds accepted beyond the mutation ops.
const (
	kindAdd   = "add"
	kindMerge = "merge"
)

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <create|set|merge|update|delete|add> <path> [json]",
		Short: "Issue one write and report whether it was refused",
		Long: `Issue a fire-and-forget write, wait for it to finish and report the
outcome. A refused write prints the denied request.

For add, <path> is a collection and the generated document path is printed.

Exit codes:
  0 - The write was accepted
  1 - The write was refused
  2 - Command error (bad config, failed connection, bad arguments)`,
		Example: `  carelink write create consultationRequests/r1 '{"status":"pending"}'
  carelink write add consultationRequests '{"status":"pending"}'
  carelink write delete doctors/d1`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := ""
			if len(args) == 3 {
				payload = args[2]
			}
			return runWrite(cmd, opts, args[0], args[1], payload)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the write to finish")
	return cmd
}

func runWrite(cmd *cobra.Command, opts *WriteOptions, kind, path, rawPayload string) error {
	f := formatter(cmd, opts.RootOptions)

	op, known := mutation.ParseOp(kind)
	if !known && kind != kindAdd && kind != kindMerge {
		err := NewExitError(ExitCommandError, fmt.Sprintf("unknown write kind %q", kind))
		_ = f.Error(CodeArgument, err.Error(), nil)
		return err
	}
	if op == mutation.OpDelete && rawPayload != "" {
		err := NewExitError(ExitCommandError, "delete takes no payload")
		_ = f.Error(CodeArgument, err.Error(), nil)
		return err
	}
	payload, err := parsePayload(rawPayload)
	if err != nil {
		err = WrapExitError(ExitCommandError, "invalid payload", err)
		_ = f.Error(CodeArgument, err.Error(), nil)
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		_ = f.Error(errorCode(err), err.Error(), nil)
		return err
	}
	defer rt.Close()

	var (
		mu      sync.Mutex
		refused []*emitter.PermissionError
	)
	unsubscribe := rt.OnError(func(pe *emitter.PermissionError) {
		mu.Lock()
		refused = append(refused, pe)
		mu.Unlock()
	})
	defer unsubscribe()

	w, err := rt.Writer()
	if err != nil {
		return WrapExitError(ExitCommandError, "writer", err)
	}

	target := path
	switch kind {
	case kindAdd:
		target = w.Add(path, payload)
	case kindMerge:
		w.Merge(path, payload)
	default:
		w.Write(op, path, payload)
	}
	f.VerboseLog("%s %s submitted", kind, target)

	if err := rt.Settle(ctx); err != nil {
		err = WrapExitError(ExitFailure, fmt.Sprintf("%s %s did not finish", kind, path), err)
		_ = f.Error(CodeWrite, err.Error(), nil)
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if len(refused) > 0 {
		for _, pe := range refused {
			_ = f.Error(CodeWrite, pe.Error(), pe.Request())
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s %s refused: %s", kind, path, refused[0].Code))
	}
	return f.Success(WriteResult{Kind: kind, Path: target})
}
