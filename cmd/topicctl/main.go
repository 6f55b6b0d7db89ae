// Command topicctl drives audit, polish, scoring, forecasting and policy
// checks from the shell. It talks to the same stores the API server uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"topiary.org/internal/capacity"
	"topiary.org/internal/config"
	"topiary.org/internal/curator"
	"topiary.org/internal/fault"
	"topiary.org/internal/ledger"
	"topiary.org/internal/naming"
	"topiary.org/internal/platform"
	"topiary.org/internal/policy"
	"topiary.org/internal/scoring"
	pgstore "topiary.org/internal/store/pg"
	"topiary.org/internal/topic"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	app, cleanup, err := newApp(cfg)
	if err != nil {
		fail(err)
	}
	defer cleanup()

	ctx := context.Background()
	switch os.Args[1] {
	case "audit":
		err = app.audit(ctx, os.Args[2:])
	case "polish":
		err = app.polish(ctx, os.Args[2:])
	case "report":
		err = app.report(ctx, os.Args[2:])
	case "score":
		err = app.score(ctx, os.Args[2:])
	case "forecast":
		err = app.forecast(ctx, os.Args[2:])
	case "policy-check":
		err = app.policyCheck(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: topicctl <command> [flags]

commands:
  audit         [--category X] [--format json]
  polish        --dry-run|--apply [--reason TEXT] [--category X]
  report        [--category X] [--pin]
  score         [--category X] [--format json]
  forecast      --category X [--horizon N]
  policy-check  --action A [--context JSON]`)
}

// fail prints the machine-readable error kind and exits non-zero.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\nkind=%s\n", err, fault.Kind(err))
	os.Exit(1)
}

type app struct {
	cfg      *config.Config
	topics   topic.Store
	metrics  capacity.Store
	led      ledger.Ledger
	auditor  *curator.Auditor
	polisher *curator.Polisher
	scorer   *scoring.Scorer
	forecaster *capacity.Forecaster
	gate     *policy.Gate
}

func newApp(cfg *config.Config) (*app, func(), error) {
	var (
		topics  topic.Store
		metrics capacity.Store
		led     ledger.Ledger
	)
	cleanup := func() {}
	if cfg.Database.DSN != "" {
		store, err := pgstore.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		topics = store.Topics()
		metrics = store.Capacity()
		led = store.Ledger()
		cleanup = func() { _ = store.Close() }
	} else {
		topics = topic.NewInMemory()
		metrics = capacity.NewInMemory()
		fileLedger, err := ledger.OpenFile(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		led = fileLedger
		cleanup = func() { _ = fileLedger.Close() }
	}

	var client platform.Client
	if cfg.Platform.BaseURL != "" {
		client = platform.NewREST(cfg.Platform.BaseURL, cfg.Platform.Token)
	} else {
		client = platform.NewFake()
	}
	client = platform.NewRetrier(client, cfg.Platform.CallTimeout, cfg.Platform.MaxRetries, cfg.Platform.RetryBaseWait)

	gate := policy.NewGate(policy.FromConfig(cfg.Policy, cfg.Categories, time.Now), led)
	norm := naming.New(cfg.Naming.MaxNameLength)

	return &app{
		cfg:      cfg,
		topics:   topics,
		metrics:  metrics,
		led:      led,
		auditor:  curator.NewAuditor(topics, metrics, client, norm, cfg.Categories),
		polisher: curator.NewPolisher(topics, led, client, gate, cfg.Categories, cfg.Platform.DeepLinkBase),
		scorer: scoring.New(
			scoring.WithSaturations(cfg.Scoring.StakeholderSaturation, cfg.Scoring.DependencySaturation),
			scoring.WithDeadlineWindow(time.Duration(cfg.Scoring.DeadlineWindowDays)*24*time.Hour),
			scoring.WithExternalConfidenceFloor(cfg.Scoring.ExternalMinConfidence),
		),
		forecaster: capacity.NewForecaster(metrics, cfg.Forecast.Window),
		gate:     gate,
	}, cleanup, nil
}

func (a *app) audit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	category := fs.String("category", "", "restrict the audit to one category")
	format := fs.String("format", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := a.auditor.Audit(ctx, *category)
	if err != nil {
		return err
	}
	if *format == "json" {
		return printJSON(report)
	}
	fmt.Printf("total=%d compliant=%d needs_polish=%d uncanonicalizable=%d\n",
		report.Total, report.Compliant, report.NeedsPolish, report.Uncanonicalizable)
	for _, f := range report.Findings {
		fmt.Printf("  %s: %q -> %q\n", f.Topic.ID, f.Topic.RawTitle, f.Target)
	}
	return nil
}

func (a *app) polish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("polish", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what apply would do")
	apply := fs.Bool("apply", false, "perform the renames and re-pins")
	reason := fs.String("reason", "", "trigger recorded in every ledger entry")
	category := fs.String("category", "", "restrict to one category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dryRun == *apply {
		return fmt.Errorf("%w: exactly one of --dry-run or --apply is required", fault.ErrValidation)
	}
	mode := curator.ModeDryRun
	if *apply {
		mode = curator.ModeApply
		if *reason == "" {
			return fmt.Errorf("%w: --reason is required with --apply", fault.ErrValidation)
		}
	}

	report, err := a.auditor.Audit(ctx, *category)
	if err != nil {
		return err
	}
	res, err := a.polisher.Polish(ctx, report, mode, curator.Trigger{
		Actor:  "topicctl",
		Roles:  a.cfg.Policy.RenameRoles,
		Reason: *reason,
	})
	if err != nil {
		return err
	}
	fmt.Printf("mode=%s renamed=%d re_pinned=%d skipped=%d failed=%d\n",
		res.Mode, res.Renamed, res.RePinned, res.Skipped, res.Failed)
	for _, f := range res.Failures {
		fmt.Printf("  failed %s at %s: %s (kind=%s)\n", f.TopicID, f.Stage, f.Error, f.Kind)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d topics failed", res.Failed)
	}
	return nil
}

func (a *app) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	category := fs.String("category", "", "restrict to one category")
	withPins := fs.Bool("pin", false, "render the pin card for each non-compliant topic")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := a.auditor.Audit(ctx, *category)
	if err != nil {
		return err
	}
	fmt.Printf("total=%d compliant=%d needs_polish=%d uncanonicalizable=%d\n",
		report.Total, report.Compliant, report.NeedsPolish, report.Uncanonicalizable)
	if !*withPins {
		return nil
	}
	for _, f := range report.Findings {
		cat, ok := a.cfg.CategoryBySlug(f.Topic.Category)
		if !ok {
			continue
		}
		card := curator.PinCard(f.Topic, f.Target, cat, a.cfg.Platform.DeepLinkBase)
		fmt.Printf("--- %s\n%s%s\n", card.Title, card.Body, card.DeepLink)
	}
	return nil
}

func (a *app) score(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	category := fs.String("category", "", "restrict to one category")
	format := fs.String("format", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	topics, err := a.topics.List(ctx, *category)
	if err != nil {
		return err
	}
	scored := a.scorer.ScoreAll(topics)
	if *format == "json" {
		return printJSON(scored)
	}
	for _, t := range scored {
		fmt.Printf("%-28s %5.2f  %s\n", t.ID, t.PriorityScore, t.CanonicalName)
	}
	return nil
}

func (a *app) forecast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ExitOnError)
	category := fs.String("category", "", "category to project")
	horizon := fs.Int("horizon", 90, "projection horizon in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *category == "" {
		return fmt.Errorf("%w: --category is required", fault.ErrValidation)
	}

	fc, err := a.forecaster.Forecast(ctx, *category, *horizon)
	if err != nil {
		return err
	}
	fmt.Printf("category=%s trend=%+.4f/day projected=%.2f\n", fc.Category, fc.Trend, fc.ProjectedUtilization)
	if fc.BreachDate != nil {
		fmt.Printf("breach_date=%s\n", fc.BreachDate.Format("2006-01-02"))
	} else {
		fmt.Println("breach_date=null")
	}
	return nil
}

func (a *app) policyCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("policy-check", flag.ExitOnError)
	action := fs.String("action", "", "action kind (rename, re-pin, create-topic, release, destructive)")
	contextJSON := fs.String("context", "{}", "action context as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *action == "" {
		return fmt.Errorf("%w: --action is required", fault.ErrValidation)
	}

	var act policy.Action
	if err := json.Unmarshal([]byte(*contextJSON), &act); err != nil {
		return fmt.Errorf("%w: invalid --context: %v", fault.ErrValidation, err)
	}
	act.Kind = *action
	if act.Actor == "" {
		act.Actor = "topicctl"
	}

	decision, err := a.gate.Evaluate(ctx, act)
	if err != nil {
		return err
	}
	if err := printJSON(decision); err != nil {
		return err
	}
	if !decision.Allowed {
		return decision.Err()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
