package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/live"
)

// WatchOptions holds flags for the watch commands.
type WatchOptions struct {
	*RootOptions
	Once    bool
	Timeout time.Duration
	Where   []string
	OrderBy []string
	Limit   int
}

// DocView is one document in a rendered state.
type DocView struct {
	ID   string         `json:"id"`
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// StateError is the listener failure of a rendered state.
type StateError struct {
	Code    backend.Code `json:"code"`
	Message string       `json:"message"`
}

// StateView is one subscription state as printed by watch.
type StateView struct {
	Target  string `json:"target"`
	Loading bool   `json:"loading,omitempty"`
	// Document is set for document targets that exist.
	Document *DocView `json:"document,omitempty"`
	// Missing is set for document targets that do not exist.
	Missing bool `json:"missing,omitempty"`
	// Documents is set for query targets once loaded.
	Documents []DocView   `json:"documents,omitempty"`
	Error     *StateError `json:"error,omitempty"`

	query bool
}

func (v StateView) String() string {
	var b strings.Builder
	b.WriteString(v.Target)
	b.WriteString(": ")

	switch {
	case v.Loading:
		b.WriteString("loading")
	case v.query:
		fmt.Fprintf(&b, "%d docs", len(v.Documents))
		for _, d := range v.Documents {
			fmt.Fprintf(&b, "\n  %s %s", d.ID, compactJSON(d.Data))
		}
	case v.Document != nil:
		fmt.Fprintf(&b, "%s %s", v.Document.ID, compactJSON(v.Document.Data))
	case v.Missing:
		b.WriteString("missing")
	default:
		b.WriteString("none")
	}

	if v.Error != nil {
		fmt.Fprintf(&b, " error=%s: %s", v.Error.Code, v.Error.Message)
	}
	return b.String()
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// NewWatchCommand creates the watch command group.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live states of a document or query",
		Long: `Subscribe to a document or query and print every state the
subscription passes through, starting with loading.

Exit codes:
  0 - Interrupted, or --once printed a loaded state
  1 - The listener failed, or --timeout passed before a loaded state
  2 - Command error (bad config, failed connection, bad arguments)`,
	}

	cmd.PersistentFlags().BoolVar(&opts.Once, "once", false, "exit after the first loaded state")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "stop watching after this long (0 = until interrupted)")

	cmd.AddCommand(newWatchDocCommand(opts))
	cmd.AddCommand(newWatchQueryCommand(opts))
	return cmd
}

func newWatchDocCommand(opts *WatchOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doc <path>",
		Short: "Watch one document",
		Example: `  carelink watch doc doctors/d1
  carelink watch doc consultationRequests/r1 --once --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, live.DocumentTarget(args[0]))
		},
	}
}

func newWatchQueryCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Watch the result set of a query",
		Example: `  carelink watch query consultationRequests --where status==pending
  carelink watch query doctors --where "specialty in [\"cardiology\",\"oncology\"]" --order-by name --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(args[0], opts.Where, opts.OrderBy, opts.Limit)
			if err != nil {
				err = WrapExitError(ExitCommandError, "invalid query", err)
				_ = formatter(cmd, opts.RootOptions).Error(CodeArgument, err.Error(), nil)
				return err
			}
			return runWatch(cmd, opts, live.QueryTarget(q))
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, `filter, e.g. "status==pending" or "tags array-contains urgent" (repeatable)`)
	cmd.Flags().StringArrayVar(&opts.OrderBy, "order-by", nil, `ordering, e.g. "createdAt:desc" (repeatable)`)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of documents (0 = unlimited)")
	return cmd
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, target live.Target) error {
	f := formatter(cmd, opts.RootOptions)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		_ = f.Error(errorCode(err), err.Error(), nil)
		return err
	}
	defer rt.Close()

	scope, err := rt.Scope(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "open scope", err)
	}
	defer scope.Close()

	views := make(chan StateView, 64)
	done := make(chan struct{})
	defer close(done)

	var unwatch func()
	if q, ok := target.Query(); ok {
		sub := live.Collection[map[string]any](scope, q)
		defer sub.Close()
		unwatch = stream(sub, func(st live.State[[]live.Doc[map[string]any]]) StateView {
			return collectionView(target, st)
		}, views, done)
	} else {
		sub := live.Document[map[string]any](scope, target.Path())
		defer sub.Close()
		unwatch = stream(sub, func(st live.State[*live.Doc[map[string]any]]) StateView {
			return documentView(target, st)
		}, views, done)
	}
	defer unwatch()

	f.VerboseLog("watching %s", target)

	last := ""
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Once {
				err := NewExitError(ExitFailure, fmt.Sprintf("no state for %s within %s", target, opts.Timeout))
				_ = f.Error(CodeSubscribe, err.Error(), nil)
				return err
			}
			return nil

		case v := <-views:
			rendered := v.String()
			if rendered == last {
				continue
			}
			last = rendered
			if err := f.Success(v); err != nil {
				return err
			}
			if v.Error != nil {
				return NewExitError(ExitFailure, fmt.Sprintf("listener for %s ended: %s", target, v.Error.Code))
			}
			if opts.Once && !v.Loading {
				return nil
			}
		}
	}
}

// stream forwards sub's states to out, starting with the current one.
// Watch callbacks run on the dispatch loop and give up once done closes.
func stream[T any](sub *live.Subscription[T], render func(live.State[T]) StateView, out chan<- StateView, done <-chan struct{}) (unwatch func()) {
	send := func(st live.State[T]) {
		select {
		case out <- render(st):
		case <-done:
		}
	}
	unwatch = sub.Watch(send)
	send(sub.State())
	return unwatch
}

func documentView(t live.Target, st live.State[*live.Doc[map[string]any]]) StateView {
	v := StateView{Target: t.String(), Loading: st.IsLoading, Error: stateError(st.Err)}
	switch {
	case st.IsLoading || t.NoTarget():
	case st.Data != nil:
		v.Document = &DocView{ID: st.Data.ID, Path: st.Data.Path, Data: st.Data.Data}
	case st.Err == nil:
		v.Missing = true
	}
	return v
}

func collectionView(t live.Target, st live.State[[]live.Doc[map[string]any]]) StateView {
	v := StateView{Target: t.String(), Loading: st.IsLoading, Error: stateError(st.Err), query: true}
	for _, d := range st.Data {
		v.Documents = append(v.Documents, DocView{ID: d.ID, Path: d.Path, Data: d.Data})
	}
	return v
}

func stateError(err error) *StateError {
	if err == nil {
		return nil
	}
	return &StateError{Code: backend.CodeOf(err), Message: err.Error()}
}
