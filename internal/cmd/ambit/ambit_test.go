package ambit

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/ambit-dev/ambit/pkg/decision"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("ambit", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Fatalf("expected default backend memory, got %q", cfg.Backend)
	}
	if cfg.Tenant != "acme" {
		t.Fatalf("expected default tenant acme, got %q", cfg.Tenant)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.MaxAttempts)
	}
}

func TestParseConfigFlagOverrides(t *testing.T) {
	fs := flag.NewFlagSet("ambit", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, []string{"-backend", "sqlite", "-sqlite-path", "demo.db", "-max-attempts", "5"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != "sqlite" {
		t.Fatalf("expected backend sqlite, got %q", cfg.Backend)
	}
	if cfg.SQLitePath != "demo.db" {
		t.Fatalf("expected sqlite path demo.db, got %q", cfg.SQLitePath)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.MaxAttempts)
	}
}

func TestDecideReserveSuccess(t *testing.T) {
	state := decision.State{
		"product_1": json.RawMessage(`{"stock":5,"reserved":0}`),
	}
	cmd := reserveCommand{
		ReservationID: "res_1",
		Items:         []reserveItem{{ProductID: "product_1", Qty: 2}},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out := decideReserve(state, cmd, decision.Context{Now: now})

	if out.Outcome != decision.OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", out.Outcome, out.Reason)
	}
	if len(out.Updates) != 1 || out.Updates[0].EntityID != "product_1" {
		t.Fatalf("expected one update for product_1, got %v", out.Updates)
	}
	snapshot, ok := out.Updates[0].Change.(json.RawMessage)
	if !ok {
		t.Fatalf("expected json.RawMessage change, got %T", out.Updates[0].Change)
	}
	if string(snapshot) != `{"stock":3,"reserved":2}` {
		t.Fatalf("unexpected snapshot: %s", snapshot)
	}
	if len(out.Events) != 1 || out.Events[0].Type != "StockReserved" {
		t.Fatalf("expected a StockReserved event, got %v", out.Events)
	}
}

func TestDecideReserveInsufficientStock(t *testing.T) {
	state := decision.State{
		"product_1": json.RawMessage(`{"stock":5,"reserved":0}`),
	}
	cmd := reserveCommand{
		ReservationID: "res_1",
		Items:         []reserveItem{{ProductID: "product_1", Qty: 9}},
	}

	out := decideReserve(state, cmd, decision.Context{})

	if out.Outcome != decision.OutcomeRejected {
		t.Fatalf("expected rejection, got %s", out.Outcome)
	}
	if out.Code != "INSUFFICIENT_STOCK" {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %s", out.Code)
	}
	if len(out.Events) != 0 || len(out.Updates) != 0 {
		t.Fatal("rejection must not carry events or updates")
	}
}

func TestDecideReserveAllOrNone(t *testing.T) {
	state := decision.State{
		"product_1": json.RawMessage(`{"stock":5,"reserved":0}`),
		"product_2": json.RawMessage(`{"stock":1,"reserved":0}`),
	}
	cmd := reserveCommand{
		ReservationID: "res_1",
		Items: []reserveItem{
			{ProductID: "product_1", Qty: 2},
			{ProductID: "product_2", Qty: 2},
		},
	}

	out := decideReserve(state, cmd, decision.Context{})

	if out.Outcome != decision.OutcomeRejected {
		t.Fatalf("expected rejection when any item is short, got %s", out.Outcome)
	}
	if len(out.Updates) != 0 {
		t.Fatalf("expected no partial updates, got %v", out.Updates)
	}
}

func TestDecideReserveDiscontinuedFails(t *testing.T) {
	state := decision.State{
		"product_3": json.RawMessage(`{"stock":4,"reserved":0,"discontinued":true}`),
	}
	cmd := reserveCommand{
		ReservationID: "res_1",
		Items:         []reserveItem{{ProductID: "product_3", Qty: 1}},
	}

	out := decideReserve(state, cmd, decision.Context{})

	if out.Outcome != decision.OutcomeFailed {
		t.Fatalf("expected failure, got %s", out.Outcome)
	}
	if len(out.Events) != 1 || out.Events[0].Type != "ReservationFailed" {
		t.Fatalf("expected a ReservationFailed event, got %v", out.Events)
	}
	if len(out.Updates) != 0 {
		t.Fatal("failure must not carry updates")
	}
}

func TestDecideReserveRejectsUnknownCommandType(t *testing.T) {
	out := decideReserve(decision.State{}, 42, decision.Context{})

	if out.Outcome != decision.OutcomeRejected || out.Code != "UNSUPPORTED_COMMAND" {
		t.Fatalf("expected UNSUPPORTED_COMMAND rejection, got %+v", out)
	}
}

func TestRunMemoryWalkthrough(t *testing.T) {
	t.Setenv("AMBIT_OTEL_ENDPOINT", "")
	var out, errOut bytes.Buffer

	cfg := Config{Backend: "memory", Tenant: "acme", MaxAttempts: 3}
	if err := Run(context.Background(), cfg, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}

	output := out.String()
	for _, want := range []string{
		"success: scope version 1",
		"conflict, stored version is 1",
		"success: scope version 2",
		"rejected [INSUFFICIENT_STOCK]",
		"failed: product product_3 is discontinued",
		`product_1 {"stock":2,"reserved":3}`,
		"scope committed at version 2",
		"engine.command.executed",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, output)
		}
	}
	if errOut.Len() != 0 {
		t.Fatalf("expected empty error output, got %q", errOut.String())
	}
}

func TestRunUnknownBackend(t *testing.T) {
	t.Setenv("AMBIT_OTEL_ENDPOINT", "")

	err := Run(context.Background(), Config{Backend: "bolt", Tenant: "acme"}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), `unknown backend "bolt"`) {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
