package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medflow-ops/claimbridge/internal/audit"
	"github.com/medflow-ops/claimbridge/internal/batch"
	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/ops"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/portal/allianz"
	"github.com/medflow-ops/claimbridge/internal/portal/mhc"
	"github.com/medflow-ops/claimbridge/internal/reconcile"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/run"
	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/database"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
	"github.com/medflow-ops/claimbridge/internal/source"
	"github.com/medflow-ops/claimbridge/internal/source/hisdb"
	"github.com/medflow-ops/claimbridge/internal/submit"
)

// payerCodes maps the payer code recorded on a visit to the portal family
// that handles it.
var payerCodes = map[string]string{
	"MHC":     "mhc",
	"MHC-INT": "mhc",
	"ALZ":     "allianz",
	"AZP":     "allianz",
}

var (
	flagFrom        string
	flagTo          string
	flagRetryFailed bool
	flagAllPending  bool
	flagSaveAsDraft bool
	flagAllowlist   []string
	flagOpsListen   string
)

func main() {
	root := &cobra.Command{
		Use:           "claimbridge",
		Short:         "Clinic visit extraction and insurer claim submission pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagFrom, "from", "", "start of visit date range (YYYY-MM-DD)")
	root.PersistentFlags().StringVar(&flagTo, "to", "", "end of visit date range (YYYY-MM-DD)")
	root.PersistentFlags().StringVar(&flagOpsListen, "ops-listen", "", "address for the /health, /ready and /metrics listener")

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract visit fields from the clinic record system",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtraction(cmd.Context(), record.BacklogExtraction)
		},
	}
	extractCmd.Flags().BoolVar(&flagRetryFailed, "retry-failed", false, "re-queue failed items below the retry ceiling")
	extractCmd.Flags().BoolVar(&flagAllPending, "all-pending", false, "walk the whole backlog regardless of date range")

	detailsCmd := &cobra.Command{
		Use:   "details",
		Short: "Backfill clinic patient numbers for extracted visits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtraction(cmd.Context(), record.BacklogDetails)
		},
	}
	detailsCmd.Flags().BoolVar(&flagRetryFailed, "retry-failed", false, "re-queue failed items below the retry ceiling")
	detailsCmd.Flags().BoolVar(&flagAllPending, "all-pending", false, "walk the whole backlog regardless of date range")

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit extracted visits to their insurer portals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmission(cmd.Context())
		},
	}
	submitCmd.Flags().BoolVar(&flagSaveAsDraft, "save-as-draft", false, "stop at a recoverable portal draft even when final submission is configured")
	submitCmd.Flags().BoolVar(&flagAllPending, "all-pending", false, "walk the whole backlog regardless of date range")

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare recorded submissions against portal visit history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconciliation(cmd.Context())
		},
	}
	reconcileCmd.Flags().StringSliceVar(&flagAllowlist, "allow", nil, "item IDs or identity numbers whose discrepancies are expected")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrations(cmd.Context())
		},
	}

	root.AddCommand(extractCmd, detailsCmd, submitCmd, reconcileCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

// app holds the wired dependencies shared by every pipeline mode.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *database.DB
	store   *record.PostgresStore
	trail   *audit.Trail
	tracker *run.Tracker
	opsSrv  *ops.Server
}

func newApp(ctx context.Context) (*app, error) {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, db.Pool, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var trail *audit.Trail
	if cfg.Audit.Enabled {
		trail, err = audit.New(ctx, cfg.Audit)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect audit trail: %w", err)
		}
	}

	store := record.NewPostgresStore(db.Pool)
	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		store:   store,
		trail:   trail,
		tracker: run.NewTracker(store, trail, log),
	}

	addr := cfg.Ops.ListenAddr
	if flagOpsListen != "" {
		addr = flagOpsListen
	}
	if addr != "" {
		a.opsSrv = ops.New(addr, map[string]ops.HealthChecker{
			"database": db.Health,
		}, log)
		a.opsSrv.Start()
	}
	return a, nil
}

func (a *app) close() {
	if a.opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.opsSrv.Stop(ctx)
		cancel()
	}
	if a.trail != nil {
		_ = a.trail.Close()
	}
	a.db.Close()
}

func (a *app) openSession(ctx context.Context) (*browser.Session, error) {
	proxy := browser.NewProxyResolver(a.cfg.Proxy, a.log)
	mgr := browser.NewManager(a.cfg.Browser, proxy, a.log)
	return mgr.Open(ctx)
}

func (a *app) registry() *portal.Registry {
	reg := portal.NewRegistry()
	mhcAdapter := mhc.New(a.cfg.Portals.MHC, a.log)
	allianzAdapter := allianz.New(a.cfg.Portals.Allianz, a.log)
	for code, family := range payerCodes {
		switch family {
		case "mhc":
			reg.Register(code, mhcAdapter)
		case "allianz":
			reg.Register(code, allianzAdapter)
		}
	}
	return reg
}

func (a *app) dateRange() (types.DateRange, error) {
	if flagFrom == "" && flagTo == "" {
		return types.DateRange{}, nil
	}
	return types.ParseDateRange(flagFrom, flagTo)
}

func runExtraction(ctx context.Context, backlog record.Backlog) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rng, err := a.dateRange()
	if err != nil {
		return err
	}

	session, err := a.openSession(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	page, err := session.NewPage("source")
	if err != nil {
		return fmt.Errorf("open source page: %w", err)
	}

	var resolver source.PatientResolver
	if a.cfg.HISDB.Enabled() {
		lookup, err := hisdb.Open(ctx, a.cfg.HISDB)
		if err != nil {
			return fmt.Errorf("connect HIS database: %w", err)
		}
		defer lookup.Close()
		resolver = lookup
	}

	src := source.New(a.cfg.Source, page, resolver, a.log)
	orchestrator := batch.New(a.store, src, a.tracker, a.log)

	release := a.tracker.HookSignals()
	defer release()

	rec, err := orchestrator.Run(ctx, batch.Selector{
		Backlog:      backlog,
		Range:        rng,
		RetryFailed:  flagRetryFailed,
		RetryCeiling: a.cfg.Batch.RetryCeiling,
		AllPending:   flagAllPending,
		MaxItems:     a.cfg.Batch.MaxItems,
	})
	if err != nil {
		return err
	}
	return runOutcome(rec)
}

func runSubmission(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rng, err := a.dateRange()
	if err != nil {
		return err
	}

	session, err := a.openSession(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	subCfg := a.cfg.Submission
	if flagSaveAsDraft {
		subCfg.FinalSubmit = false
	}

	submitter := submit.New(a.store, a.registry(), session, a.tracker, subCfg, a.log)

	release := a.tracker.HookSignals()
	defer release()

	rec, err := submitter.SubmitPending(ctx, submit.Filter{
		Range:      rng,
		AllPending: flagAllPending,
		MaxItems:   a.cfg.Batch.MaxItems,
	})
	if err != nil {
		return err
	}
	return runOutcome(rec)
}

func runReconciliation(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rng, err := a.dateRange()
	if err != nil {
		return err
	}
	if rng.IsZero() {
		return fmt.Errorf("reconcile requires --from and --to")
	}

	session, err := a.openSession(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	engine := reconcile.New(a.store, a.registry(), session, flagAllowlist, a.log)
	rows, summary, err := engine.Reconcile(ctx, rng)
	if err != nil {
		return err
	}

	for _, row := range rows {
		a.log.Info("reconciliation row",
			"classification", row.Classification,
			"item_id", row.ItemID,
			"patient", row.PatientName,
			"visit_date", row.VisitDate,
			"payer_code", row.PayerCode,
			"portal_status", row.PortalStatus,
			"portal_ref", row.PortalRef,
		)
	}
	a.log.Info("reconciliation summary",
		"total", summary.Total,
		"aligned", summary.Aligned,
		"recorded_not_in_portal", summary.RecordedNotInPortal,
		"in_portal_not_recorded", summary.InPortalNotRecorded,
		"skipped", summary.Skipped,
		"no_adapter", summary.NoAdapter,
	)
	if summary.RecordedNotInPortal > 0 || summary.InPortalNotRecorded > 0 {
		return fmt.Errorf("reconciliation found %d discrepancies",
			summary.RecordedNotInPortal+summary.InPortalNotRecorded)
	}
	return nil
}

func runMigrations(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db.Pool, slog.Default()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// runOutcome maps the finalized run record to the process exit status. A
// run that did not finish completed is a failure even when every item error
// was item-scoped.
func runOutcome(rec *record.RunRecord) error {
	if rec == nil {
		return fmt.Errorf("run was not recorded")
	}
	if rec.Status != record.RunCompleted {
		return fmt.Errorf("run %s finished %s: %s", rec.ID, rec.Status, rec.ErrorMessage)
	}
	return nil
}
