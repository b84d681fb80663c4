package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/finbot-ai/finbot/internal/domain/agentresult"
	"github.com/finbot-ai/finbot/internal/domain/vendor"
	"github.com/finbot-ai/finbot/internal/port/reasoning"
)

func newValidator(store *mockStore, llm *stubCompleter) *ValidatorAgent {
	log := testLogger()
	vendors := NewVendorService(store, nil, 0, log)
	var c reasoning.Completer
	if llm != nil {
		c = llm
	}
	return NewValidatorAgent(store, vendors, c, log)
}

func TestValidateMissingInvoice(t *testing.T) {
	store := newMockStore()
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Success {
		t.Error("expected failure for missing invoice")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "INVOICE_NOT_FOUND" {
		t.Errorf("errors = %v, want [INVOICE_NOT_FOUND]", res.Errors)
	}
}

func TestValidateCleanInvoice(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, 500, "Office supplies for Q3")
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got errors %v", res.Errors)
	}
	if res.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", res.Confidence)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
	vd, ok := res.Data.(*agentresult.ValidationData)
	if !ok {
		t.Fatalf("data = %T, want *ValidationData", res.Data)
	}
	if !vd.VendorVerified || vd.Amount != 500 {
		t.Errorf("data = %+v", vd)
	}
}

func TestValidateLowTrustAlone(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustLow)
	iid := store.seedInvoice(vid, 500, "Office supplies for Q3")
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// A lone low-trust finding deducts confidence but does not fail
	// the stage.
	if !res.Success {
		t.Errorf("expected success with only LOW_TRUST_VENDOR, got errors %v", res.Errors)
	}
	if math.Abs(res.Confidence-0.70) > 1e-9 {
		t.Errorf("confidence = %v, want 0.70", res.Confidence)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "LOW_TRUST_VENDOR" {
		t.Errorf("errors = %v, want [LOW_TRUST_VENDOR]", res.Errors)
	}
	vd := res.Data.(*agentresult.ValidationData)
	if vd.VendorVerified {
		t.Error("low trust vendor must not be marked verified")
	}
}

func TestValidateBadAmountAndDescription(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, -100, "Bad")
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Success {
		t.Error("expected failure with two issues")
	}
	want := []string{"INVALID_AMOUNT", "DESCRIPTION_TOO_SHORT"}
	if len(res.Errors) != 2 || res.Errors[0] != want[0] || res.Errors[1] != want[1] {
		t.Errorf("errors = %v, want %v", res.Errors, want)
	}
	if math.Abs(res.Confidence-0.35) > 1e-9 {
		t.Errorf("confidence = %v, want 0.35", res.Confidence)
	}
}

func TestValidateUnusuallyHighAmount(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustHigh)
	iid := store.seedInvoice(vid, 250_000, "Annual datacenter hardware refresh")
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Success {
		t.Error("expected failure for unusually high amount")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "UNUSUALLY_HIGH_AMOUNT" {
		t.Errorf("errors = %v", res.Errors)
	}
	if math.Abs(res.Confidence-0.75) > 1e-9 {
		t.Errorf("confidence = %v, want 0.75", res.Confidence)
	}
}

func TestValidateLongDescription(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, 500, strings.Repeat("x", 1001))
	agent := newValidator(store, nil)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "DESCRIPTION_TOO_LONG" {
		t.Errorf("errors = %v, want [DESCRIPTION_TOO_LONG]", res.Errors)
	}
}

func TestValidateDescriptionLengthInRunes(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	agent := newValidator(store, nil)

	// 6 characters in 12 bytes: counting bytes would let this pass.
	short := store.seedInvoice(vid, 500, "Мебель")
	res, err := agent.Validate(context.Background(), short)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "DESCRIPTION_TOO_SHORT" {
		t.Errorf("errors = %v, want [DESCRIPTION_TOO_SHORT]", res.Errors)
	}

	// 600 characters in 1200 bytes: counting bytes would flag this as long.
	wide := store.seedInvoice(vid, 500, strings.Repeat("ü", 600))
	res, err = agent.Validate(context.Background(), wide)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none for 600 characters", res.Errors)
	}
}

func TestValidateReasonedReply(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, 500, "Office supplies for Q3")
	llm := &stubCompleter{content: "```json\n" +
		`{"valid": true, "confidence": 0.92, "issues": [], ` +
		`"normalized_data": {"amount": 500, "description": "Office supplies", "vendor_verified": true}, ` +
		`"reasoning": "Looks routine"}` + "\n```"}
	agent := newValidator(store, llm)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Success || res.Confidence != 0.92 {
		t.Errorf("success=%v confidence=%v, want true 0.92", res.Success, res.Confidence)
	}
	if res.Reasoning != "Looks routine" {
		t.Errorf("reasoning = %q", res.Reasoning)
	}
}

func TestValidateReasonedConfidenceClamped(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, 500, "Office supplies for Q3")
	llm := &stubCompleter{content: `{"valid": true, "confidence": 1.7, "issues": [],` +
		` "normalized_data": {"amount": 500, "description": "x", "vendor_verified": true}, "reasoning": "r"}`}
	agent := newValidator(store, llm)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", res.Confidence)
	}
}

func TestValidateBackendErrorFallsBack(t *testing.T) {
	store := newMockStore()
	vid := store.seedVendor(vendor.TrustStandard)
	iid := store.seedInvoice(vid, 500, "Office supplies for Q3")
	llm := &stubCompleter{err: errors.New("backend down")}
	agent := newValidator(store, llm)

	res, err := agent.Validate(context.Background(), iid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Success || res.Confidence != 0.85 {
		t.Errorf("fallback expected: success=%v confidence=%v", res.Success, res.Confidence)
	}
}
