// Package runner drives the processing cycles: fetch candidate mails,
// run them through filter, correlation and tracker sync, send
// confirmations, and archive what was handled.
package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailticket/correlate"
	"mailticket/filter"
	"mailticket/mailparse"
	"mailticket/model"
	"mailticket/stats"
)

// Mailbox is the IMAP surface one cycle needs.
type Mailbox interface {
	Login() error
	Logout() error
	ListUIDs() ([]uint32, error)
	FetchRaw(uid uint32) (model.RawMessage, error)
	Archive(uid uint32) error
}

// Syncer applies one correlated mail to the issue tracker.
type Syncer interface {
	Sync(identity model.TicketIdentity, body, sender, subject string) model.SyncOutcome
}

// Confirmer sends the thread-starter confirmation for a new ticket.
type Confirmer interface {
	SendThreadStarter(m *mailparse.Mail, identity model.TicketIdentity) error
}

// Options wire a Runner to its collaborators.
type Options struct {
	Mailbox    Mailbox
	Filter     *filter.Filter
	Correlator *correlate.Correlator
	Syncer     Syncer
	Confirmer  Confirmer
	Logger     *slog.Logger
}

// Runner owns all side effects of a cycle. All other components are pure
// functions of their inputs.
type Runner struct {
	mailbox    Mailbox
	filter     *filter.Filter
	correlator *correlate.Correlator
	syncer     Syncer
	confirmer  Confirmer
	logger     *slog.Logger
}

// New validates the wiring.
func New(opts Options) (*Runner, error) {
	if opts.Mailbox == nil {
		return nil, errors.New("runner requires a mailbox")
	}
	if opts.Filter == nil {
		return nil, errors.New("runner requires a filter")
	}
	if opts.Correlator == nil {
		return nil, errors.New("runner requires a correlator")
	}
	if opts.Syncer == nil {
		return nil, errors.New("runner requires a syncer")
	}
	if opts.Confirmer == nil {
		return nil, errors.New("runner requires a confirmer")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		mailbox:    opts.Mailbox,
		filter:     opts.Filter,
		correlator: opts.Correlator,
		syncer:     opts.Syncer,
		confirmer:  opts.Confirmer,
		logger:     opts.Logger,
	}, nil
}

// Run executes cycles under the given policy until the policy is
// exhausted or a cycle fails with a transport error.
func (r *Runner) Run(policy *LoopPolicy) error {
	for {
		if !policy.ShouldRunNow() {
			time.Sleep(time.Second)
			continue
		}

		if _, err := r.RunCycle(); err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}

		if policy.Exhausted() {
			return nil
		}
	}
}

// RunCycle performs one fetch-process-archive pass over the inbox, plus
// an echo sweep pass whenever the first pass created new tickets, so the
// just-sent confirmations cannot be mistaken for replies next cycle.
func (r *Runner) RunCycle() (stats.CycleSummary, error) {
	summary, createdNew, err := r.pass(false)
	if err != nil {
		return summary, err
	}

	if createdNew {
		r.logger.Info("fetching again to archive confirmation echoes")
		sweep, _, err := r.pass(true)
		summary.Merge(sweep)
		if err != nil {
			return summary, err
		}
	}

	r.logger.Info("cycle complete", summary.LogAttrs()...)
	return summary, nil
}

// pass runs one fetch-and-process sweep. During an echo sweep only echo
// detection and archiving apply; everything else stays untouched.
func (r *Runner) pass(echoSweep bool) (stats.CycleSummary, bool, error) {
	var summary stats.CycleSummary

	if err := r.mailbox.Login(); err != nil {
		return summary, false, err
	}
	defer func() {
		if err := r.mailbox.Logout(); err != nil {
			r.logger.Warn("imap logout failed", "err", err)
		}
	}()

	uids, err := r.mailbox.ListUIDs()
	if err != nil {
		return summary, false, err
	}
	if len(uids) == 0 {
		r.logger.Debug("inbox empty")
		return summary, false, nil
	}
	r.logger.Info("messages in inbox", "count", len(uids), "echoSweep", echoSweep)

	createdNew := false
	for _, uid := range uids {
		summary.Fetched++
		if r.processMessage(uid, echoSweep, &summary) {
			createdNew = true
		}
	}

	return summary, createdNew, nil
}

// processMessage handles a single inbox message and reports whether it
// produced a new tracker issue. Errors local to one message never abort
// the cycle for the others.
func (r *Runner) processMessage(uid uint32, echoSweep bool, summary *stats.CycleSummary) bool {
	msg, err := r.mailbox.FetchRaw(uid)
	if err != nil {
		r.logger.Warn("fetch failed, message left in inbox", "uid", uid, "err", err)
		summary.Errors++
		return false
	}

	m, err := mailparse.Parse(msg.UID, msg.Raw)
	if err != nil {
		r.logger.Error("unreadable message left for manual inspection", "uid", uid, "err", err)
		summary.Errors++
		return false
	}

	if !echoSweep {
		if filtered, reasons := r.filter.Evaluate(m); filtered {
			r.logger.Info("message filtered", "uid", uid, "from", m.FromAddr(), "reasons", reasons)
			summary.Filtered++
			r.archive(uid, summary)
			return false
		}
	}

	identity, correlation, err := r.correlator.Correlate(m)
	if err != nil {
		// A corrupted token must not spawn a duplicate ticket; the
		// message stays in the inbox for manual inspection.
		r.logger.Error("correlation failed, message left for manual inspection", "uid", uid, "err", err)
		summary.Errors++
		return false
	}

	if correlation == model.EchoIgnore {
		r.logger.Debug("archiving confirmation echo", "uid", uid, "token", identity.PrefixedToken)
		summary.Echoes++
		r.archive(uid, summary)
		return false
	}

	if echoSweep {
		// Non-echo mail that arrived between passes waits for the next
		// full cycle.
		return false
	}

	outcome := r.syncer.Sync(identity, m.RenderBody(), m.FromAddr(), m.Subject)
	if !outcome.Success {
		r.logger.Warn("tracker sync failed, message left for retry", "uid", uid, "token", identity.PrefixedToken)
		summary.Retried++
		return false
	}

	if outcome.CreatedNew {
		summary.Created++
		if err := r.confirmer.SendThreadStarter(m, identity); err != nil {
			// The issue exists; losing the confirmation costs the thread
			// headers but must not keep the mail in the inbox forever.
			r.logger.Error("confirmation send failed", "uid", uid, "token", identity.PrefixedToken, "err", err)
			summary.Errors++
		}
	} else {
		summary.Commented++
	}

	r.archive(uid, summary)
	return outcome.CreatedNew
}

func (r *Runner) archive(uid uint32, summary *stats.CycleSummary) {
	if err := r.mailbox.Archive(uid); err != nil {
		r.logger.Warn("archive failed, message left in inbox", "uid", uid, "err", err)
		summary.Errors++
		return
	}
	summary.Archived++
}
