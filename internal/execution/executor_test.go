package execution

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"dex-router/internal/order"
)

type fakeRouter struct {
	calls  []order.Order
	fills  []order.Executed
	failAt int // 1-based call index that fails; 0 means never
	err    error
}

func (f *fakeRouter) Execute(ctx context.Context, o order.Order) (order.Executed, error) {
	f.calls = append(f.calls, o)
	n := len(f.calls)
	if f.failAt > 0 && n == f.failAt {
		return order.Executed{Asset: o.Asset, Success: false, FailReason: f.err.Error()}, f.err
	}
	idx := n - 1
	if idx >= len(f.fills) {
		idx = len(f.fills) - 1
	}
	fill := f.fills[idx]
	fill.Asset = o.Asset
	fill.Quantity = o.Quantity
	fill.Success = true
	return fill, nil
}

func simpleFill(filled, price, slippage float64) order.Executed {
	return order.Executed{
		VenueID:      "sim",
		FilledAmount: filled,
		AvgPrice:     price,
		SlippageBps:  slippage,
		GasCostUSD:   1.0,
	}
}

func TestBuildPlanSingleWhenNoFragmentation(t *testing.T) {
	frag, err := NewFragmenter(&fakeRouter{}, nil)
	if err != nil {
		t.Fatalf("NewFragmenter returned error: %v", err)
	}

	o := order.Order{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 3.0, FragmentCount: 1}
	plan, err := frag.BuildPlan(o)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("expected single fragment, got %d", len(plan))
	}
	if plan[0].Quantity != 3.0 {
		t.Errorf("expected full quantity 3.0, got %f", plan[0].Quantity)
	}

	o.FragmentCount = 0
	plan, err = frag.BuildPlan(o)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("expected single fragment for zero count, got %d", len(plan))
	}
}

func TestBuildPlanEvenSplit(t *testing.T) {
	frag, _ := NewFragmenter(&fakeRouter{}, nil)

	o := order.Order{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 10.0, FragmentCount: 4}
	plan, err := frag.BuildPlan(o)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(plan))
	}
	for i, fr := range plan {
		if math.Abs(fr.Quantity-2.5) > 1e-9 {
			t.Errorf("fragment %d quantity = %f, expected 2.5", i, fr.Quantity)
		}
		if fr.Asset != o.Asset || fr.Side != o.Side {
			t.Errorf("fragment %d lost order identity", i)
		}
	}
}

func TestBuildPlanLastFragmentAbsorbsRemainder(t *testing.T) {
	frag, _ := NewFragmenter(&fakeRouter{}, nil)

	o := order.Order{Asset: "WETH/USDC", Side: order.SideSell, Quantity: 1.0, FragmentCount: 3}
	plan, err := frag.BuildPlan(o)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}

	sum := 0.0
	for _, fr := range plan {
		sum += fr.Quantity
	}
	if sum != o.Quantity {
		t.Errorf("fragment quantities sum to %v, expected exactly %v", sum, o.Quantity)
	}
}

func TestBuildPlanRejectsInvalidOrder(t *testing.T) {
	frag, _ := NewFragmenter(&fakeRouter{}, nil)

	if _, err := frag.BuildPlan(order.Order{Quantity: 1}); err == nil {
		t.Error("expected error for empty asset")
	}
	if _, err := frag.BuildPlan(order.Order{Asset: "WETH/USDC", Quantity: 0}); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := frag.BuildPlan(order.Order{Asset: "WETH/USDC", Quantity: -2}); err == nil {
		t.Error("expected error for negative quantity")
	}
}

func TestNewFragmenterRequiresRouter(t *testing.T) {
	if _, err := NewFragmenter(nil, nil); err == nil {
		t.Error("expected error for nil router")
	}
}

func TestExecuteAggregatesWeightedResult(t *testing.T) {
	rt := &fakeRouter{fills: []order.Executed{
		simpleFill(2.0, 100.0, 10.0),
		simpleFill(2.0, 110.0, 30.0),
	}}
	frag, _ := NewFragmenter(rt, nil)

	fragments := []order.Order{
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 2.0},
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 2.0},
	}
	res, err := frag.Execute(context.Background(), fragments)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Completed {
		t.Error("expected result marked completed")
	}
	if res.Executed() != 2 {
		t.Errorf("expected 2 executed fragments, got %d", res.Executed())
	}
	if math.Abs(res.FilledAmount-4.0) > 1e-9 {
		t.Errorf("filled amount = %f, expected 4.0", res.FilledAmount)
	}
	if math.Abs(res.AvgPrice-105.0) > 1e-9 {
		t.Errorf("avg price = %f, expected volume-weighted 105.0", res.AvgPrice)
	}
	if math.Abs(res.SlippageBps-20.0) > 1e-9 {
		t.Errorf("slippage = %f, expected volume-weighted 20.0", res.SlippageBps)
	}
	if math.Abs(res.GasCostUSD-2.0) > 1e-9 {
		t.Errorf("gas cost = %f, expected 2.0", res.GasCostUSD)
	}
}

func TestExecutePartialFailureKeepsFills(t *testing.T) {
	rt := &fakeRouter{
		fills:  []order.Executed{simpleFill(1.0, 100.0, 5.0)},
		failAt: 2,
		err:    errors.New("venue rejected order"),
	}
	frag, _ := NewFragmenter(rt, nil)

	fragments := []order.Order{
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 1.0},
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 1.0},
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 1.0},
	}
	res, err := frag.Execute(context.Background(), fragments)
	if err == nil {
		t.Fatal("expected error on fragment failure")
	}
	if !strings.Contains(err.Error(), "venue rejected order") {
		t.Errorf("error should wrap venue failure, got: %v", err)
	}
	if res.Completed {
		t.Error("partial execution must not be marked completed")
	}
	if res.Executed() != 1 {
		t.Errorf("expected 1 executed fragment, got %d", res.Executed())
	}
	if math.Abs(res.FilledAmount-1.0) > 1e-9 {
		t.Errorf("filled amount = %f, expected 1.0 from first fragment", res.FilledAmount)
	}
	if math.Abs(res.AvgPrice-100.0) > 1e-9 {
		t.Errorf("avg price = %f, expected 100.0 from completed fills", res.AvgPrice)
	}
	if len(rt.calls) != 2 {
		t.Errorf("expected execution to stop after failure, got %d calls", len(rt.calls))
	}
	if len(res.Notes) == 0 {
		t.Error("expected failure note in result")
	}
}

func TestExecuteHonorsCancellationBetweenFragments(t *testing.T) {
	rt := &fakeRouter{fills: []order.Executed{simpleFill(1.0, 100.0, 5.0)}}
	frag, _ := NewFragmenter(rt, nil)

	ctx, cancel := context.WithCancel(context.Background())
	fragments := []order.Order{
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 1.0, FragmentInterval: time.Hour},
		{Asset: "WETH/USDC", Side: order.SideBuy, Quantity: 1.0, FragmentInterval: time.Hour},
	}

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, err = frag.Execute(ctx, fragments)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(rt.calls) != 1 {
		t.Errorf("expected only first fragment executed, got %d calls", len(rt.calls))
	}
	if res.Executed() != 1 {
		t.Errorf("expected 1 executed fragment before cancel, got %d", res.Executed())
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	frag, _ := NewFragmenter(&fakeRouter{}, nil)

	res, err := frag.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute returned error for empty plan: %v", err)
	}
	if res.Completed {
		t.Error("empty plan should not be marked completed")
	}
	if len(res.Fragments) != 0 {
		t.Errorf("expected no fragments, got %d", len(res.Fragments))
	}
}
