package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/snapshot"
	"github.com/roach88/namegraph/internal/store"
)

// hashArg matches a 32-byte hex id.
var hashArg = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// nowUnix is the clock registrations are judged against.
var nowUnix = func() uint64 { return uint64(time.Now().Unix()) }

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Events bool // include the audit log of domains
}

// DomainView is a domain with its audit log.
type DomainView struct {
	entity.Domain
	Events []entity.Event `json:"events,omitempty"`
}

// RegistrationView is a registration with its lifecycle phase.
type RegistrationView struct {
	entity.Registration
	Status entity.RegistrationStatus `json:"status"`
}

// NewInspectCommand creates the inspect command and its subcommands.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read entities from the database",
		Long: `Read materialized entities from the database.

Domains and registrations may be named ("alice.eth") or given by id.
Other entities are looked up by id.

Examples:
  namegraph inspect domain alice.eth --events
  namegraph inspect registration alice.eth --format json
  namegraph inspect tree eth
  namegraph inspect counts`,
	}

	cmd.PersistentFlags().BoolVar(&opts.Events, "events", false, "include the audit log")

	cmd.AddCommand(
		newInspectEntityCommand(opts, "domain <name|node>", "Show a domain", inspectDomain),
		newInspectEntityCommand(opts, "registration <name|id>", "Show a registration", inspectRegistration),
		newInspectEntityCommand(opts, "resolver <id>", "Show a resolver record set", byID(entity.KindResolver)),
		newInspectEntityCommand(opts, "label <id>", "Show a hierarchical registry label", byID(entity.KindLabel)),
		newInspectEntityCommand(opts, "registry <id>", "Show a hierarchical registry", byID(entity.KindRegistry)),
		newInspectTreeCommand(opts),
		newInspectCountsCommand(opts),
	)

	return cmd
}

// lookupFunc finds the entity an argument names. A nil result means none.
type lookupFunc func(ctx context.Context, opts *InspectOptions, db *store.DB, arg string) (any, error)

func newInspectEntityCommand(opts *InspectOptions, use, short string, lookup lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			out := opts.formatter(cmd)

			view, err := lookup(cmd.Context(), opts, sess.db, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "lookup failed", err)
			}
			if view == nil {
				kind := strings.Fields(use)[0]
				msg := fmt.Sprintf("%s %s not found", kind, args[0])
				_ = out.Error("NOT_FOUND", msg, nil)
				return NewExitError(ExitCommandError, msg)
			}
			if out.Format == "json" {
				return out.Success(view)
			}
			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			return out.Success(string(data))
		},
	}
}

// domainID turns a name or node argument into a domain id. "" and "." name
// the root.
func domainID(arg string) string {
	if hashArg.MatchString(arg) {
		return strings.ToLower(arg)
	}
	if arg == "." {
		arg = ""
	}
	return ident.HashID(ident.NameHash(arg))
}

func inspectDomain(ctx context.Context, opts *InspectOptions, db *store.DB, arg string) (any, error) {
	d, found, err := store.Get[entity.Domain](ctx, db, domainID(arg))
	if err != nil || !found {
		return nil, err
	}
	view := DomainView{Domain: d}
	if opts.Events {
		view.Events, err = db.EventsFor(ctx, d.ID)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}

// inspectRegistration tries the label-hash id of the canonical namespace
// before the node id used elsewhere.
func inspectRegistration(ctx context.Context, _ *InspectOptions, db *store.DB, arg string) (any, error) {
	var candidates []string
	if hashArg.MatchString(arg) {
		candidates = []string{strings.ToLower(arg)}
	} else {
		first, _, _ := strings.Cut(arg, ".")
		labelHash := ident.LabelHash(first)
		node := ident.NameHash(arg)
		candidates = []string{
			ident.Scheme{Canonical: true}.RegistrationID(labelHash, node),
			ident.Scheme{}.RegistrationID(labelHash, node),
		}
	}
	for _, id := range slices.Compact(candidates) {
		r, found, err := store.Get[entity.Registration](ctx, db, id)
		if err != nil {
			return nil, err
		}
		if found {
			return RegistrationView{Registration: r, Status: r.Status(nowUnix())}, nil
		}
	}
	return nil, nil
}

func byID(kind entity.Kind) lookupFunc {
	return func(ctx context.Context, _ *InspectOptions, db *store.DB, arg string) (any, error) {
		row, err := db.Find(ctx, kind, strings.ToLower(arg))
		if err != nil || row == nil {
			return nil, err
		}
		return row, nil
	}
}

func newInspectTreeCommand(opts *InspectOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tree [name|node]",
		Short:         "Print the domain tree under a domain (default: the root)",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			out := opts.formatter(cmd)

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			tree, err := snapshot.Tree(cmd.Context(), sess.db, domainID(root))
			if err != nil {
				_ = out.Error("NOT_FOUND", err.Error(), nil)
				return WrapExitError(ExitCommandError, "tree failed", err)
			}
			if out.Format == "json" {
				return out.Success(strings.Split(strings.TrimSuffix(tree, "\n"), "\n"))
			}
			_, err = fmt.Fprint(out.Writer, tree)
			return err
		},
	}
}

func newInspectCountsCommand(opts *InspectOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "counts",
		Short:         "Print the number of rows of every entity kind",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			out := opts.formatter(cmd)

			counts, err := sess.db.Counts(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "count failed", err)
			}
			if out.Format == "json" {
				return out.Success(counts)
			}
			for _, kind := range entity.Kinds {
				fmt.Fprintf(out.Writer, "%-13s %d\n", kind, counts[kind])
			}
			return nil
		},
	}
}
