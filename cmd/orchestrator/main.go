// Command orchestrator is the investigation orchestrator's HTTP entrypoint:
// it wires the compliance/cache/provider/cost/planner/phase/sar stack to a
// Postgres-backed entity store and a Redis-backed cache, exposes the HRIS
// webhook ingress/egress surface, and serves health/metrics endpoints.
// Structured like the teacher's cmd/appserver: flags for every externally
// supplied setting, env/secret fallback through internal/config, and a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tangentland/elile-sub002/internal/ai"
	"github.com/tangentland/elile-sub002/internal/audit"
	"github.com/tangentland/elile-sub002/internal/cache"
	"github.com/tangentland/elile-sub002/internal/checkpoint"
	"github.com/tangentland/elile-sub002/internal/compliance"
	"github.com/tangentland/elile-sub002/internal/config"
	"github.com/tangentland/elile-sub002/internal/cost"
	"github.com/tangentland/elile-sub002/internal/httputil"
	"github.com/tangentland/elile-sub002/internal/investigation"
	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/logging"
	"github.com/tangentland/elile-sub002/internal/metrics"
	"github.com/tangentland/elile-sub002/internal/migrate"
	"github.com/tangentland/elile-sub002/internal/phase"
	"github.com/tangentland/elile-sub002/internal/planner"
	"github.com/tangentland/elile-sub002/internal/provider"
	"github.com/tangentland/elile-sub002/internal/reqctx"
	"github.com/tangentland/elile-sub002/internal/resilience"
	"github.com/tangentland/elile-sub002/internal/risk"
	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/secrets"
	"github.com/tangentland/elile-sub002/internal/security"
	"github.com/tangentland/elile-sub002/internal/store"
	"github.com/tangentland/elile-sub002/internal/webhook"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_URL)")
	redisAddr := flag.String("redis-addr", "", "Redis address (overrides REDIS_ADDR)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup")
	flag.Parse()

	logger := logging.NewFromEnv("orchestrator")
	rootCtx := context.Background()

	dsnVal := firstNonEmpty(*dsn, os.Getenv("DATABASE_URL"))
	if dsnVal == "" {
		log.Fatal("DATABASE_URL (or -dsn) must be set")
	}

	db, err := sql.Open("postgres", dsnVal)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if *runMigrations {
		if err := migrate.Apply(db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: firstNonEmpty(*redisAddr, config.GetEnv("REDIS_ADDR", "localhost:6379")),
	})
	defer rdb.Close()

	lookup := func(key string) (string, bool) {
		v, ok := os.LookupEnv(key)
		return v, ok
	}

	auditKey, err := config.EnvOrSecretBytes(lookup, "AUDIT_HMAC_KEY")
	if err != nil || len(auditKey) == 0 {
		log.Fatalf("AUDIT_HMAC_KEY must be set: %v", err)
	}
	webhookSecret := []byte(config.RequireEnvOrSecret(lookup, "WEBHOOK_SHARED_SECRET"))
	anthropicKey := config.EnvOrSecret(lookup, "ANTHROPIC_API_KEY", "")

	payloadMasterKey, err := config.EnvOrSecretBytes(lookup, secrets.MasterKeyEnv)
	if err != nil || len(payloadMasterKey) == 0 {
		log.Fatalf("%s must be set: %v", secrets.MasterKeyEnv, err)
	}
	secretsMgr, err := secrets.NewManager(nil, payloadMasterKey)
	if err != nil {
		log.Fatalf("build secrets manager: %v", err)
	}

	entities := store.New(db)
	checkpoints := checkpoint.NewManager(db)
	auditLog := audit.NewLogger(db, auditKey)

	svc := buildInvestigationService(entities, checkpoints, auditLog, rdb, secretsMgr, webhookSecret, anthropicKey)

	dispatcher := webhook.NewDispatcher(webhookSecret)
	registerHRISHandlers(dispatcher, auditLog)
	replayGuard := security.NewReplayProtection(5*time.Minute, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(metrics.InstrumentHandler)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", metrics.Handler())
	router.Post("/webhooks/hris", func(w http.ResponseWriter, r *http.Request) {
		handleInboundWebhook(w, r, dispatcher, replayGuard, logger)
	})
	router.Post("/investigations", func(w http.ResponseWriter, r *http.Request) {
		handleLaunchInvestigation(w, r, svc, logger)
	})

	listenAddr := firstNonEmpty(*addr, config.GetEnv("ORCHESTRATOR_ADDR", ":8080"))
	server := &http.Server{Addr: listenAddr, Handler: router}

	go func() {
		logger.Info(rootCtx, "orchestrator listening", map[string]interface{}{"addr": listenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// buildInvestigationService assembles an investigation.Service from its
// constituent packages. The compliance ruleset and query catalog loaded
// here are minimal startup defaults, not a complete jurisdictional rule
// set or provider catalog — spec.md §1's Non-goals explicitly exclude
// authoring the specific jurisdictional rules ("they are loaded as data"),
// and no named background-check vendor adapters exist in this codebase to
// register against provider.Registry, so the registry starts empty and is
// populated by a future adapter-registration step.
func buildInvestigationService(entities *store.Store, checkpoints *checkpoint.Manager, auditLog *audit.Logger, rdb *redis.Client, secretsMgr *secrets.Manager, webhookSecret []byte, anthropicKey string) *investigation.Service {
	registry := provider.NewRegistry()
	router := provider.NewRouter(registry, provider.DefaultRouterConfig())
	costSvc := cost.NewService(nil)
	tiers := cache.NewTierPolicyMatrix(defaultTierPolicyMatrix())
	if err := tiers.Validate(defaultCheckTypes(), []string{string(reqctx.TierStandard), string(reqctx.TierEnhanced)}); err != nil {
		log.Fatalf("tier-policy matrix: %v", err)
	}
	c := cache.New(rdb, defaultFreshnessPolicies(), tiers)
	executor := planner.NewExecutor(c, router, costSvc, entities, secretsMgr, 4)

	kb := knowledgebase.New()
	runner := phase.NewRunner(defaultCatalog(), executor, kb, nil)

	var model ai.Model = ai.NewRuleBased()
	if anthropicKey != "" {
		model = ai.NewFallback(ai.NewClaude(anthropicKey, "claude-3-5-sonnet-latest"), ai.NewRuleBased())
	}

	outboundClient := httputil.CopyHTTPClientWithTimeout(
		&http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}, 15*time.Second, true)
	publisher := webhook.NewPublisher(outboundClient, resilience.DefaultRetryConfig())

	return &investigation.Service{
		Rules:       compliance.NewRuleset(defaultComplianceRules()),
		Runner:      runner,
		KB:          kb,
		Plan:        phase.DefaultPlan(),
		Entities:    entities,
		Checkpoints: checkpoints,
		Audit:       auditLog,
		Webhooks:    publisher,
		Model:       model,
		Weights:     risk.DefaultCategoryWeights(),
	}
}

func defaultFreshnessPolicies() map[string]cache.FreshnessPolicy {
	return map[string]cache.FreshnessPolicy{
		"ssn_trace":        {FreshWindow: 90 * 24 * time.Hour, StaleWindow: 365 * 24 * time.Hour},
		"criminal_county":  {FreshWindow: 30 * 24 * time.Hour, StaleWindow: 180 * 24 * time.Hour},
		"employment_verify": {FreshWindow: 180 * 24 * time.Hour, StaleWindow: 0},
		"education_verify": {FreshWindow: 365 * 24 * time.Hour, StaleWindow: 0},
	}
}

func defaultTierPolicyMatrix() map[string]map[string]cache.Action {
	return map[string]map[string]cache.Action{
		"ssn_trace":         {"standard": cache.ActionUseAndFlag, "enhanced": cache.ActionBlockAndRefresh},
		"criminal_county":   {"standard": cache.ActionUseAndFlag, "enhanced": cache.ActionBlockAndRefresh},
		"employment_verify": {"standard": cache.ActionUseAndFlag, "enhanced": cache.ActionUseAndFlag},
		"education_verify":  {"standard": cache.ActionUseAndFlag, "enhanced": cache.ActionUseAndFlag},
	}
}

// defaultCheckTypes lists every check type defaultTierPolicyMatrix and
// defaultFreshnessPolicies must cover, so tiers.Validate catches a gap
// between the two maps at startup instead of cache.Action panicking
// inside a request handler the first time an uncovered check type is
// actually queried.
func defaultCheckTypes() []string {
	return []string{"ssn_trace", "criminal_county", "employment_verify", "education_verify"}
}

// defaultCatalog is a minimal startup query catalog covering one check
// type per Foundation/Records info type, enough to exercise the SAR
// pipeline end to end; a complete per-tenant catalog is operational
// configuration, loaded the same way compliance rules are (spec.md §9).
func defaultCatalog() planner.Catalog {
	identityParams := func(subjectID string, attrs map[string]string) map[string]string {
		return map[string]string{"subject_id": subjectID}
	}
	return planner.Catalog{
		sar.InfoIdentity:  {{CheckType: "ssn_trace", ParamsFn: identityParams}},
		sar.InfoCriminal:  {{CheckType: "criminal_county", ParamsFn: identityParams}},
		sar.InfoEmployment: {{CheckType: "employment_verify", ParamsFn: identityParams}},
		sar.InfoEducation: {{CheckType: "education_verify", ParamsFn: identityParams}},
	}
}

// defaultComplianceRules is a minimal permissive default ("default"
// locale, every check type, standard consent) so the service is usable
// out of the box; production deployments load their actual jurisdictional
// rule set from configuration (spec.md §1 Non-goals).
func defaultComplianceRules() []compliance.Rule {
	checkTypes := []string{"ssn_trace", "criminal_county", "employment_verify", "education_verify"}
	rules := make([]compliance.Rule, 0, len(checkTypes))
	for _, ct := range checkTypes {
		rules = append(rules, compliance.Rule{
			Locale: "default", CheckType: ct, Permitted: true,
		})
	}
	return rules
}

func registerHRISHandlers(d *webhook.Dispatcher, auditLog *audit.Logger) {
	d.On(webhook.EventConsentGranted, func(ctx context.Context, e webhook.InboundEvent) error {
		_, err := auditLog.Append(ctx, e.SubjectID, e.TenantID, "hris", audit.EventConsentGranted, e.Payload)
		return err
	})
	d.On(webhook.EventEmployeeTerminated, func(ctx context.Context, e webhook.InboundEvent) error {
		_, err := auditLog.Append(ctx, e.SubjectID, e.TenantID, "hris", audit.EventWebhookReceived, e.Payload)
		return err
	})
}

const maxWebhookBodyBytes = 1 << 20 // 1MiB
const maxInvestigationBodyBytes = 1 << 16 // 64KiB

// launchRequest is the wire shape accepted by POST /investigations. It maps
// directly onto reqctx.Params and phase.Subject; CheckTypes is the catalog
// of check types compliance.Ruleset.Evaluate considers for this request.
type launchRequest struct {
	TenantID      string            `json:"tenant_id"`
	Actor         string            `json:"actor"`
	Locale        string            `json:"locale"`
	ConsentToken  string            `json:"consent_token"`
	ConsentScope  string            `json:"consent_scope"`
	ConsentExpiry time.Time         `json:"consent_expiry"`
	Tier          string            `json:"tier"`
	Degree        string            `json:"degree"`
	Vigilance     string            `json:"vigilance"`
	BudgetLimit   *float64          `json:"budget_limit,omitempty"`
	EntityID      string            `json:"entity_id"`
	SubjectAttrs  map[string]string `json:"subject_attrs"`
	CheckTypes    []string          `json:"check_types"`
}

// handleLaunchInvestigation runs one investigation synchronously end to
// end and returns the committed profile. A synchronous handler is a
// reasonable starting surface for this entrypoint; a queue-backed async
// submission endpoint (returning 202 + a polling location) is the natural
// next addition once investigations routinely exceed typical HTTP client
// timeouts (spec.md §4 "Investigation lifecycle").
func handleLaunchInvestigation(w http.ResponseWriter, r *http.Request, svc *investigation.Service, logger *logging.Logger) {
	body, err := httputil.ReadAllStrict(r.Body, maxInvestigationBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "read body")
		return
	}

	var req launchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	params := reqctx.Params{
		TenantID:      req.TenantID,
		Actor:         req.Actor,
		Locale:        req.Locale,
		ConsentToken:  req.ConsentToken,
		ConsentScope:  req.ConsentScope,
		ConsentExpiry: req.ConsentExpiry,
		Tier:          reqctx.Tier(req.Tier),
		Degree:        reqctx.Degree(req.Degree),
		Vigilance:     reqctx.Vigilance(req.Vigilance),
		BudgetLimit:   req.BudgetLimit,
		CacheScope:    reqctx.CacheScopeTenant,
	}
	subject := phase.Subject{EntityID: req.EntityID, Locale: req.Locale, Degree: req.Degree, Attrs: req.SubjectAttrs}

	profile, err := svc.Launch(r.Context(), investigation.Request{
		Params: params, Subject: subject, EntityID: req.EntityID, CheckTypes: req.CheckTypes,
	})
	if err != nil {
		logger.Error(r.Context(), "investigation launch failed", err, map[string]interface{}{"entity_id": req.EntityID})
		httputil.WriteErrorResponse(w, r, http.StatusUnprocessableEntity, "INVESTIGATION_FAILED", security.SanitizeError(err), nil)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, profile)
}

// handleInboundWebhook verifies, replay-checks, and dispatches one inbound
// HRIS event. The HMAC signature itself (rather than a caller-supplied
// nonce HRIS senders aren't guaranteed to provide) doubles as the replay
// key: it is unique per body, so a retried delivery of the same event is
// rejected the same way a reused nonce would be.
func handleInboundWebhook(w http.ResponseWriter, r *http.Request, d *webhook.Dispatcher, replayGuard *security.ReplayProtection, logger *logging.Logger) {
	clientIP := httputil.ClientIP(r)

	body, err := httputil.ReadAllStrict(r.Body, maxWebhookBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "read body")
		return
	}
	sig := r.Header.Get("X-Webhook-Signature")
	if sig == "" || !replayGuard.ValidateAndMark(sig) {
		httputil.Conflict(w, "duplicate or missing delivery")
		return
	}
	if err := d.Receive(r.Context(), body, sig); err != nil {
		logger.Error(r.Context(), "inbound webhook rejected", err, map[string]interface{}{"client_ip": clientIP})
		httputil.BadRequest(w, security.SanitizeError(err))
		return
	}
	logger.Info(r.Context(), "inbound webhook accepted", map[string]interface{}{"client_ip": clientIP})
	w.WriteHeader(http.StatusAccepted)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
