// Package ambit implements the demo command: a stock reservation walkthrough
// that runs the execution engine against a chosen storage backend and prints
// every terminal outcome the engine can produce.
package ambit

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	entrypoint "github.com/ambit-dev/ambit/internal/platform/cmd"
	"github.com/ambit-dev/ambit/internal/platform/id"
	"github.com/ambit-dev/ambit/pkg/decision"
	"github.com/ambit-dev/ambit/pkg/engine"
	"github.com/ambit-dev/ambit/pkg/observability/audit"
	"github.com/ambit-dev/ambit/pkg/observability/audit/events"
	"github.com/ambit-dev/ambit/pkg/observability/metrics"
	"github.com/ambit-dev/ambit/pkg/scope"
	"github.com/ambit-dev/ambit/pkg/storage"
	"github.com/ambit-dev/ambit/pkg/storage/memory"
	"github.com/ambit-dev/ambit/pkg/storage/postgres"
	"github.com/ambit-dev/ambit/pkg/storage/redis"
	"github.com/ambit-dev/ambit/pkg/storage/sqlite"
)

// Config holds demo command configuration.
type Config struct {
	Backend     string `env:"AMBIT_BACKEND"      envDefault:"memory"`
	SQLitePath  string `env:"AMBIT_SQLITE_PATH"  envDefault:"ambit.db"`
	PostgresDSN string `env:"AMBIT_POSTGRES_DSN"`
	RedisAddr   string `env:"AMBIT_REDIS_ADDR"   envDefault:"localhost:6379"`
	Tenant      string `env:"AMBIT_TENANT"       envDefault:"acme"`
	MaxAttempts int    `env:"AMBIT_MAX_ATTEMPTS" envDefault:"3"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend (memory, sqlite, postgres, redis)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "postgres connection string")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	fs.StringVar(&cfg.Tenant, "tenant", cfg.Tenant, "tenant identifier for scope keys")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts before giving up on a conflicted commit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// backendStore is the storage surface the walkthrough needs: the engine
// collaborators plus audit persistence and listings for the final report.
type backendStore interface {
	storage.Store
	audit.Store
	ListAuditEvents(ctx context.Context, limit int) ([]audit.Event, error)
}

func openStore(ctx context.Context, cfg Config) (backendStore, func() error, error) {
	noClose := func() error { return nil }
	switch cfg.Backend {
	case "memory":
		return memory.NewStore(), noClose, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case "postgres":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, nil, errors.New("postgres backend requires AMBIT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	case "redis":
		store := redis.New(cfg.RedisAddr, "", 0)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Run executes the walkthrough: seed a small product catalog, then run one
// reservation command through every terminal outcome the engine produces.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAmbit, func(context.Context) error {
		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				fmt.Fprintf(errOut, "close store: %v\n", err)
			}
		}()

		w := &walkthrough{
			cfg:      cfg,
			store:    store,
			executor: engine.Executor{Metrics: metrics.NewCollector("ambit")},
			auditor:  audit.NewEmitter(store),
			out:      out,
			errOut:   errOut,
		}
		return w.run(ctx)
	})
}

type walkthrough struct {
	cfg      Config
	store    backendStore
	executor engine.Executor
	auditor  *audit.Emitter
	out      io.Writer
	errOut   io.Writer
}

func (w *walkthrough) run(ctx context.Context) error {
	if err := w.seed(ctx); err != nil {
		return err
	}

	scopeID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate scope id: %w", err)
	}
	scopeKey, err := scope.Create(w.cfg.Tenant, "reservation", scopeID)
	if err != nil {
		return fmt.Errorf("build scope key: %w", err)
	}
	fmt.Fprintf(w.out, "walkthrough: backend=%s scope=%s\n", w.cfg.Backend, scopeKey)

	fmt.Fprintln(w.out, "step 1: reserve product_1 x2 and product_2 x1 on a fresh scope")
	first, err := w.reserveWithRetry(ctx, scopeKey, 0, []reserveItem{
		{ProductID: "product_1", Qty: 2},
		{ProductID: "product_2", Qty: 1},
	})
	if err != nil {
		return err
	}
	w.printResult(first)

	fmt.Fprintln(w.out, "step 2: reserve again starting from a stale expected version")
	second, err := w.reserveWithRetry(ctx, scopeKey, 0, []reserveItem{
		{ProductID: "product_1", Qty: 1},
	})
	if err != nil {
		return err
	}
	w.printResult(second)

	fmt.Fprintln(w.out, "step 3: overdraw product_2")
	third, err := w.reserve(ctx, scopeKey, second.ScopeVersion, []reserveItem{
		{ProductID: "product_2", Qty: 99},
	})
	if err != nil {
		return err
	}
	w.printResult(third)

	fmt.Fprintln(w.out, "step 4: reserve a discontinued product")
	fourth, err := w.reserve(ctx, scopeKey, second.ScopeVersion, []reserveItem{
		{ProductID: "product_3", Qty: 1},
	})
	if err != nil {
		return err
	}
	w.printResult(fourth)

	return w.report(ctx, scopeKey)
}

func (w *walkthrough) seed(ctx context.Context) error {
	snapshots := map[string]string{
		"product_1": `{"stock":5,"reserved":0}`,
		"product_2": `{"stock":3,"reserved":0}`,
		"product_3": `{"stock":4,"reserved":0,"discontinued":true}`,
	}
	for entityID, snapshot := range snapshots {
		err := w.store.PutEntity(ctx, storage.EntityRecord{
			ID:       entityID,
			Snapshot: []byte(snapshot),
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", entityID, err)
		}
	}
	return nil
}

// reserveWithRetry retries conflicted executions with a freshly observed
// scope version, up to MaxAttempts. Retry policy lives here with the caller;
// the engine itself never retries.
func (w *walkthrough) reserveWithRetry(ctx context.Context, scopeKey string, expectedVersion int64, items []reserveItem) (engine.Result, error) {
	var result engine.Result
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		var err error
		result, err = w.reserve(ctx, scopeKey, expectedVersion, items)
		if err != nil {
			return engine.Result{}, err
		}
		if result.Status != engine.StatusConflict {
			return result, nil
		}
		fmt.Fprintf(w.out, "  attempt %d: conflict, stored version is %d, retrying\n", attempt, result.CurrentVersion)
		expectedVersion = result.CurrentVersion
	}
	return result, nil
}

func (w *walkthrough) reserve(ctx context.Context, scopeKey string, expectedVersion int64, items []reserveItem) (engine.Result, error) {
	commandID, err := id.NewID()
	if err != nil {
		return engine.Result{}, fmt.Errorf("generate command id: %w", err)
	}
	reservationID, err := id.NewID()
	if err != nil {
		return engine.Result{}, fmt.Errorf("generate reservation id: %w", err)
	}
	cmd := reserveCommand{ReservationID: reservationID, Items: items}

	result, err := w.executor.Execute(ctx, engine.Request{
		ScopeKey:        scopeKey,
		ExpectedVersion: expectedVersion,
		BoundedContext:  "inventory",
		StreamType:      "reservation",
		SchemaVersion:   1,
		EventCategory:   "domain",
		Scopes:          w.store,
		Entities:        engine.EntitySet{IDs: itemIDs(items), Loader: w.store},
		Decider:         decideReserve,
		Command:         cmd,
		ApplyUpdate:     w.applyUpdate,
		CommandID:       commandID,
		CorrelationID:   reservationID,
	})
	if err != nil {
		w.audit(ctx, audit.Event{
			EventName:     events.CommandErrored,
			Severity:      string(audit.SeverityError),
			ScopeKey:      scopeKey,
			CommandID:     commandID,
			CorrelationID: reservationID,
			Attributes:    map[string]any{"error": err.Error()},
		})
		return engine.Result{}, err
	}
	w.audit(ctx, audit.Event{
		EventName:     events.CommandExecuted,
		ScopeKey:      scopeKey,
		CommandID:     commandID,
		CorrelationID: reservationID,
		Outcome:       string(result.Status),
		Attributes: map[string]any{
			"updates":       len(result.UpdatedIDs),
			"scope_version": result.ScopeVersion,
		},
	})
	return result, nil
}

// applyUpdate persists one decided snapshot. Each update carries the entity's
// full replacement snapshot; the engine hands them over in decision order.
func (w *walkthrough) applyUpdate(ctx context.Context, entityID string, update any) error {
	snapshot, ok := update.(json.RawMessage)
	if !ok {
		return fmt.Errorf("unexpected update type %T", update)
	}
	return w.store.PutEntity(ctx, storage.EntityRecord{ID: entityID, Snapshot: snapshot})
}

func (w *walkthrough) audit(ctx context.Context, evt audit.Event) {
	evt.TraceID, evt.SpanID = audit.TraceContext(ctx)
	if err := w.auditor.Emit(ctx, evt); err != nil {
		fmt.Fprintf(w.errOut, "audit emit: %v\n", err)
	}
}

func (w *walkthrough) printResult(result engine.Result) {
	switch result.Status {
	case engine.StatusSuccess:
		fmt.Fprintf(w.out, "  success: scope version %d, updated %s\n",
			result.ScopeVersion, strings.Join(result.UpdatedIDs, ", "))
		for _, evt := range result.Events {
			fmt.Fprintf(w.out, "  event %s %s\n", evt.Type, evt.PayloadJSON)
		}
	case engine.StatusRejected:
		fmt.Fprintf(w.out, "  rejected [%s]: %s\n", result.Code, result.Reason)
	case engine.StatusFailed:
		fmt.Fprintf(w.out, "  failed: %s\n", result.Reason)
		for _, evt := range result.Events {
			fmt.Fprintf(w.out, "  event %s %s\n", evt.Type, evt.PayloadJSON)
		}
	case engine.StatusConflict:
		fmt.Fprintf(w.out, "  conflict: stored version is %d\n", result.CurrentVersion)
	}
}

func (w *walkthrough) report(ctx context.Context, scopeKey string) error {
	entities, err := w.store.ListEntities(ctx, 0)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	fmt.Fprintln(w.out, "final snapshots:")
	for _, rec := range entities {
		fmt.Fprintf(w.out, "  %s %s\n", rec.ID, rec.Snapshot)
	}

	current, err := w.store.GetScope(ctx, scopeKey)
	if err != nil {
		return fmt.Errorf("get scope: %w", err)
	}
	fmt.Fprintf(w.out, "scope committed at version %d\n", current.CurrentVersion)

	trail, err := w.store.ListAuditEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("list audit events: %w", err)
	}
	fmt.Fprintln(w.out, "audit trail:")
	for _, evt := range trail {
		fmt.Fprintf(w.out, "  %s %s outcome=%s\n", evt.EventName, evt.CommandID, evt.Outcome)
	}
	return nil
}

type reserveItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type reserveCommand struct {
	ReservationID string        `json:"reservation_id"`
	Items         []reserveItem `json:"items"`
}

type productState struct {
	Stock        int  `json:"stock"`
	Reserved     int  `json:"reserved"`
	Discontinued bool `json:"discontinued,omitempty"`
}

// decideReserve checks stock for every requested item and reserves all of
// them or none. Reserving a discontinued product is the recorded-failure
// path: the reservation is refused but an event documents the attempt.
func decideReserve(state decision.State, command any, dctx decision.Context) decision.Output {
	cmd, ok := command.(reserveCommand)
	if !ok {
		return decision.Rejected("UNSUPPORTED_COMMAND", fmt.Sprintf("unsupported command type %T", command))
	}

	updates := make(decision.Updates, 0, len(cmd.Items))
	total := 0
	for _, item := range cmd.Items {
		product, err := decodeProduct(state[item.ProductID])
		if err != nil {
			return decision.Rejected("MALFORMED_SNAPSHOT", err.Error())
		}
		if product.Discontinued {
			payload, _ := json.Marshal(map[string]any{
				"reservation_id": cmd.ReservationID,
				"product_id":     item.ProductID,
				"reason":         "discontinued",
			})
			return decision.Failed(
				fmt.Sprintf("product %s is discontinued", item.ProductID),
				decision.Event{Type: "ReservationFailed", PayloadJSON: payload},
			)
		}
		if product.Stock < item.Qty {
			return decision.RejectedWithMetadata("INSUFFICIENT_STOCK",
				fmt.Sprintf("product %s has %d in stock, requested %d", item.ProductID, product.Stock, item.Qty),
				map[string]any{"product_id": item.ProductID},
			)
		}
		product.Stock -= item.Qty
		product.Reserved += item.Qty
		snapshot, _ := json.Marshal(product)
		updates = append(updates, decision.UpdateEntity(item.ProductID, json.RawMessage(snapshot)))
		total += item.Qty
	}

	payload, _ := json.Marshal(map[string]any{
		"reservation_id": cmd.ReservationID,
		"items":          cmd.Items,
		"reserved_at":    dctx.Now,
	})
	return decision.Success(
		map[string]any{"reservation_id": cmd.ReservationID, "reserved": total},
		updates,
		decision.Event{Type: "StockReserved", PayloadJSON: payload},
	)
}

func decodeProduct(snapshot any) (productState, error) {
	raw, ok := snapshot.(json.RawMessage)
	if !ok {
		return productState{}, fmt.Errorf("unexpected snapshot type %T", snapshot)
	}
	var product productState
	if err := json.Unmarshal(raw, &product); err != nil {
		return productState{}, fmt.Errorf("decode product snapshot: %w", err)
	}
	return product, nil
}

func itemIDs(items []reserveItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
