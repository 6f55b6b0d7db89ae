package curator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"topiary.org/internal/config"
	"topiary.org/internal/fault"
	"topiary.org/internal/keylock"
	"topiary.org/internal/ledger"
	"topiary.org/internal/obs"
	"topiary.org/internal/platform"
	"topiary.org/internal/policy"
	"topiary.org/internal/topic"
)

// Mode selects between reporting what apply would do and doing it.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeApply  Mode = "apply"
)

// lockRetryWait is how long a run waits before its second and final attempt
// to take a contended topic lock.
const lockRetryWait = 50 * time.Millisecond

// Trigger identifies who invoked the polish and why. Reason lands verbatim
// in every ledger entry the run produces (e.g. "quarterly-2026-Q3").
type Trigger struct {
	Actor  string   `json:"actor"`
	Roles  []string `json:"roles,omitempty"`
	Reason string   `json:"reason"`
}

// Failure records one per-topic error without aborting the batch.
type Failure struct {
	TopicID string `json:"topic_id"`
	Stage   string `json:"stage"` // lock, policy, rename, re-pin
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// Result summarizes one polish run.
type Result struct {
	Mode     Mode      `json:"mode"`
	Renamed  int       `json:"renamed"`
	RePinned int       `json:"re_pinned"`
	Skipped  int       `json:"skipped_already_done"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Polisher applies the renames and re-pins an audit report calls for. Every
// applied action is gated by policy, keyed for idempotency and recorded in
// the ledger whether it succeeded or not.
type Polisher struct {
	store        topic.Store
	led          ledger.Ledger
	platform     platform.Client
	gate         *policy.Gate
	locks        *keylock.Map
	cats         map[string]config.Category
	deepLinkBase string
	now          func() time.Time
}

// NewPolisher wires a Polisher. gate may be nil to skip policy evaluation
// (dry-run demos and tests of the mechanical path).
func NewPolisher(store topic.Store, led ledger.Ledger, client platform.Client, gate *policy.Gate, cats []config.Category, deepLinkBase string) *Polisher {
	bySlug := make(map[string]config.Category, len(cats))
	for _, c := range cats {
		bySlug[c.Slug] = c
	}
	return &Polisher{
		store:        store,
		led:          led,
		platform:     client,
		gate:         gate,
		locks:        keylock.New(),
		cats:         bySlug,
		deepLinkBase: deepLinkBase,
		now:          time.Now,
	}
}

// Polish processes every finding in the report. Per-topic failures are
// isolated; cancellation stops picking up new topics but lets the in-flight
// one finish so its ledger entries are written.
func (p *Polisher) Polish(ctx context.Context, report Report, mode Mode, trig Trigger) (Result, error) {
	if mode != ModeDryRun && mode != ModeApply {
		return Result{}, fmt.Errorf("%w: unknown polish mode %q", fault.ErrValidation, mode)
	}
	res := Result{Mode: mode}

	for _, f := range report.Findings {
		select {
		case <-ctx.Done():
			obs.LogEvent("polish.cancelled", map[string]any{
				"processed": res.Renamed + res.Skipped + res.Failed,
				"remaining": report.NeedsPolish - (res.Renamed + res.Skipped + res.Failed),
			})
			return res, ctx.Err()
		default:
		}
		if f.Target == "" {
			// Audit could not derive a canonical name; nothing to apply.
			res.Failed++
			res.Failures = append(res.Failures, Failure{
				TopicID: f.Topic.ID,
				Stage:   "rename",
				Kind:    fault.Kind(fault.ErrValidation),
				Error:   "no canonical name could be derived",
			})
			continue
		}
		p.polishOne(ctx, f, mode, trig, &res)
	}

	obs.ObservePolishAction("renamed", res.Renamed)
	obs.ObservePolishAction("re_pinned", res.RePinned)
	obs.ObservePolishAction("skipped", res.Skipped)
	obs.ObservePolishAction("failed", res.Failed)
	obs.LogEvent("polish.run_complete", map[string]any{
		"mode":      string(mode),
		"renamed":   res.Renamed,
		"re_pinned": res.RePinned,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	})
	return res, nil
}

func (p *Polisher) polishOne(ctx context.Context, f Finding, mode Mode, trig Trigger, res *Result) {
	unlock, err := p.lockTopic(ctx, f.Topic.ID)
	if err != nil {
		p.fail(res, f.Topic.ID, "lock", err)
		return
	}
	defer unlock()

	renameKey := ledger.Key(f.Topic.ID, "rename", f.Target)
	pinKey := ledger.Key(f.Topic.ID, "re-pin", f.Target)

	renameDone, err := p.led.HasSucceeded(ctx, renameKey)
	if err != nil {
		p.fail(res, f.Topic.ID, "rename", err)
		return
	}
	pinDone, err := p.led.HasSucceeded(ctx, pinKey)
	if err != nil {
		p.fail(res, f.Topic.ID, "re-pin", err)
		return
	}

	if mode == ModeDryRun {
		if renameDone {
			res.Skipped++
		} else {
			res.Renamed++
		}
		if !pinDone {
			res.RePinned++
		}
		return
	}

	if renameDone {
		res.Skipped++
	} else {
		if p.gate != nil {
			decision, err := p.gate.Evaluate(ctx, policy.Action{
				Kind:        "rename",
				Actor:       trig.Actor,
				Roles:       trig.Roles,
				Category:    f.Topic.Category,
				TargetState: f.Target,
				Reason:      trig.Reason,
			})
			if err != nil {
				p.fail(res, f.Topic.ID, "policy", err)
				return
			}
			if !decision.Allowed {
				p.fail(res, f.Topic.ID, "policy", decision.Err())
				return
			}
		}
		if !p.rename(ctx, f, renameKey, trig, res) {
			return
		}
	}

	if !pinDone {
		p.rePin(ctx, f, pinKey, trig, res)
	}
}

// lockTopic acquires the per-topic mutex, retrying once after a short wait
// so two overlapping runs degrade to a concurrent-modification failure
// instead of queueing behind each other.
func (p *Polisher) lockTopic(ctx context.Context, topicID string) (func(), error) {
	key := "topic:" + topicID
	if unlock, ok := p.locks.TryLock(key); ok {
		return unlock, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(lockRetryWait):
	}
	if unlock, ok := p.locks.TryLock(key); ok {
		return unlock, nil
	}
	return nil, fmt.Errorf("%w: topic %s is being polished by another run", fault.ErrConcurrentModification, topicID)
}

// rename performs the external rename and records it. Returns false when the
// topic should not proceed to the pin step.
func (p *Polisher) rename(ctx context.Context, f Finding, key string, trig Trigger, res *Result) bool {
	renameErr := p.platform.RenameTopic(ctx, f.Topic.ID, f.Target)

	entry := ledger.Entry{
		IdempotencyKey: key,
		Actor:          trig.Actor,
		Action:         ledger.ActionRename,
		Before:         ledger.Snapshot(map[string]string{"title": f.Topic.RawTitle}),
		After:          ledger.Snapshot(map[string]string{"title": f.Target}),
		Reason:         trig.Reason,
		Outcome:        ledger.OutcomeSucceeded,
	}
	if renameErr != nil {
		entry.Outcome = ledger.OutcomeFailed
		entry.Reason = trig.Reason + ": " + renameErr.Error()
	}
	if _, err := p.led.Append(ctx, entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicateKey) {
			// Lost a race with another runner; the work is done.
			res.Skipped++
			return true
		}
		p.fail(res, f.Topic.ID, "rename", err)
		return false
	}
	if renameErr != nil {
		p.fail(res, f.Topic.ID, "rename", renameErr)
		return false
	}

	res.Renamed++
	rec := f.Topic
	rec.RawTitle = f.Target
	rec.Compliant = true
	rec.LastPolishedAt = p.now().UTC()
	if err := p.store.Put(ctx, rec); err != nil {
		p.fail(res, f.Topic.ID, "rename", err)
		return false
	}
	return true
}

func (p *Polisher) rePin(ctx context.Context, f Finding, key string, trig Trigger, res *Result) {
	cat := p.cats[f.Topic.Category]
	card := PinCard(f.Topic, f.Target, cat, p.deepLinkBase)

	var msgID string
	pinErr := p.platform.UnpinAll(ctx, f.Topic.ID)
	if pinErr == nil {
		msgID, pinErr = p.platform.PinMessage(ctx, f.Topic.ID, card)
	}

	entry := ledger.Entry{
		IdempotencyKey: key,
		Actor:          trig.Actor,
		Action:         ledger.ActionRePin,
		Before:         ledger.Snapshot(map[string]string{"pinned_message_id": f.Topic.PinnedMessageID}),
		After:          ledger.Snapshot(map[string]string{"pinned_message_id": msgID}),
		Reason:         trig.Reason,
		Outcome:        ledger.OutcomeSucceeded,
	}
	if pinErr != nil {
		entry.Outcome = ledger.OutcomeFailed
		entry.Reason = trig.Reason + ": " + pinErr.Error()
	}
	if _, err := p.led.Append(ctx, entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicateKey) {
			return
		}
		p.fail(res, f.Topic.ID, "re-pin", err)
		return
	}
	if pinErr != nil {
		p.fail(res, f.Topic.ID, "re-pin", pinErr)
		return
	}

	res.RePinned++
	rec, err := p.store.Get(ctx, f.Topic.ID)
	if err != nil {
		p.fail(res, f.Topic.ID, "re-pin", err)
		return
	}
	rec.PinnedMessageID = msgID
	rec.LastPolishedAt = p.now().UTC()
	if err := p.store.Put(ctx, rec); err != nil {
		p.fail(res, f.Topic.ID, "re-pin", err)
	}
}

func (p *Polisher) fail(res *Result, topicID, stage string, err error) {
	res.Failed++
	res.Failures = append(res.Failures, Failure{
		TopicID: topicID,
		Stage:   stage,
		Kind:    fault.Kind(err),
		Error:   err.Error(),
	})
	obs.LogEvent("polish.topic_failed", map[string]any{
		"topic_id": topicID,
		"stage":    stage,
		"kind":     fault.Kind(err),
		"error":    err.Error(),
	})
}
