// Package clone runs the clone state machine: discover the remote refs,
// negotiate and transfer a pack, persist objects and refs, then check out
// the default branch or skip checkout for a bare repository.
package clone

import (
	"context"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/checkout"
	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/gitconfig"
	"github.com/master-wayne7/gitpure/internal/logging"
	"github.com/master-wayne7/gitpure/internal/objects"
	"github.com/master-wayne7/gitpure/internal/pack"
	"github.com/master-wayne7/gitpure/internal/protocol"
	"github.com/master-wayne7/gitpure/internal/refs"
)

const (
	// RemoteName is the name given to the cloned-from remote.
	RemoteName = "origin"

	fallbackBranch = "refs/heads/main"
)

// Options describe one clone. GitDir must already hold an initialized,
// empty repository.
type Options struct {
	URL string
	Fs  afero.Fs
	// GitDir is the metadata directory; Worktree is empty for a bare clone.
	GitDir   string
	Worktree string
	Bare     bool

	Client          *protocol.Client
	CheckoutWorkers int
	Logger          *zap.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Result describes a finished clone.
type Result struct {
	State State
	// Head is HEAD as written: symbolic to the default branch, or an id
	// for a remote with a detached HEAD and no branches.
	Head refs.Reference
	// Refs are the references written, in write order.
	Refs     []refs.Reference
	Objects  int
	Checkout *checkout.Result
}

type machine struct {
	opts   Options
	logger *zap.Logger
	state  State
}

func (m *machine) transition(to State) {
	if !CanTransition(m.state, to) {
		// programming error: the sequence in Run is fixed
		panic("clone: invalid transition from " + m.state.String() + " to " + to.String())
	}
	from := m.state
	m.state = to
	m.logger.Debug("clone state", zap.Stringer("from", from), zap.Stringer("to", to))
	if m.opts.OnTransition != nil {
		m.opts.OnTransition(from, to)
	}
}

// fail moves to Failed and annotates err with the phase that failed. An
// error observed after the caller cancelled is reported as cancellation.
func (m *machine) fail(ctx context.Context, err error) error {
	phase := m.state
	m.transition(Failed)
	if cerr := errors.FromContext(ctx); cerr != nil && !errors.Is(err, errors.ErrCancelled) {
		err = errors.E(errors.ErrCancelled, err)
	}
	return errors.Wrapf(err, "clone failed while %s", phase)
}

// Run clones opts.URL into the repository at opts.GitDir.
func Run(ctx context.Context, opts Options) (*Result, error) {
	m := &machine{opts: opts, logger: logging.OrNop(opts.Logger), state: Requested}
	client := opts.Client
	if client == nil {
		client = &protocol.Client{Logger: m.logger}
	}
	store := objects.NewStore(opts.Fs, opts.GitDir, m.logger)
	refStore := refs.NewStore(opts.Fs, opts.GitDir, m.logger)
	res := &Result{}

	m.transition(Discovering)
	adv, err := client.Discover(ctx, opts.URL)
	if err != nil {
		return nil, m.fail(ctx, errors.Wrap(err, "discovering refs"))
	}
	m.logger.Debug("discovered refs", zap.Int("refs", len(adv.Refs)), zap.Strings("capabilities", adv.Capabilities))

	if wants := wantedIDs(adv); len(wants) > 0 {
		m.transition(Negotiating)
		stream, err := client.Fetch(ctx, opts.URL, protocol.FetchRequest{Wants: wants, Capabilities: adv.Capabilities})
		if err != nil {
			return nil, m.fail(ctx, errors.Wrap(err, "negotiating pack"))
		}

		m.transition(Transferring)
		decoder := &pack.Decoder{Base: store, Logger: m.logger}
		objs, err := decoder.Decode(ctx, stream)
		_ = stream.Close()
		if err != nil {
			return nil, m.fail(ctx, errors.Wrap(err, "receiving pack"))
		}

		m.transition(Persisting)
		if err := store.Put(ctx, objs); err != nil {
			return nil, m.fail(ctx, errors.Wrap(err, "persisting objects"))
		}
		res.Objects = len(objs)
	} else {
		m.transition(Persisting)
	}

	plan, err := planRefs(adv, opts.Bare, store)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	reachable, err := objects.CheckConnectivity(ctx, store, plan.roots())
	if err != nil {
		return nil, m.fail(ctx, errors.Wrap(err, "checking connectivity"))
	}
	m.logger.Debug("connectivity verified", zap.Int("reachable", reachable))
	if err := plan.write(refStore); err != nil {
		return nil, m.fail(ctx, errors.Wrap(err, "writing refs"))
	}
	res.Refs = append(append([]refs.Reference(nil), plan.refs...), plan.symbolic...)
	res.Head = plan.head
	if err := writeRemoteConfig(opts); err != nil {
		return nil, m.fail(ctx, err)
	}

	if opts.Bare {
		m.transition(Skipped)
	} else {
		m.transition(CheckingOut)
		if !plan.checkout.IsZero() {
			co, err := checkoutCommit(ctx, opts, store, plan.checkout)
			if err != nil {
				return nil, m.fail(ctx, errors.Wrap(err, "checking out worktree"))
			}
			res.Checkout = co
		}
	}

	m.transition(Complete)
	res.State = m.state
	return res, nil
}

// wantedIDs lists every advertised ref tip, plus a detached HEAD.
func wantedIDs(adv *protocol.Advertisement) []objects.ID {
	var wants []objects.ID
	for _, r := range adv.Refs {
		if strings.HasPrefix(r.Name, refs.HeadsPrefix) || strings.HasPrefix(r.Name, refs.TagsPrefix) {
			wants = append(wants, r.ID)
		}
	}
	if len(wants) == 0 && !adv.Head.IsZero() {
		wants = append(wants, adv.Head)
	}
	return wants
}

func writeRemoteConfig(opts Options) error {
	cfg, err := gitconfig.Read(opts.Fs, opts.GitDir)
	if err != nil {
		return err
	}
	cfg.AddRemote(RemoteName, opts.URL)
	return gitconfig.Write(opts.Fs, opts.GitDir, cfg)
}

func checkoutCommit(ctx context.Context, opts Options, store *objects.Store, id objects.ID) (*checkout.Result, error) {
	commit, err := objects.ReadCommit(store, id)
	if err != nil {
		return nil, err
	}
	res, err := checkout.Checkout(ctx, store, opts.Fs, opts.Worktree, commit.Tree, checkout.Options{
		Workers: opts.CheckoutWorkers,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := checkout.WriteIndex(opts.Fs, opts.GitDir, res.Entries); err != nil {
		return nil, err
	}
	return res, nil
}
