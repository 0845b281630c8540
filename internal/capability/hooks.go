package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"livenote/internal/logging"
	"livenote/internal/market"
	"livenote/internal/storage"
	"livenote/internal/types"
	"livenote/internal/ui"
)

// DefaultMarketRange is used when useMarketData gets no range.
const DefaultMarketRange = "1mo"

func jsError(rt *goja.Runtime, msg string) goja.Value {
	v, err := rt.New(rt.Get("Error"), rt.ToValue(msg))
	if err != nil {
		return rt.ToValue(msg)
	}
	return v
}

// =============================================================================
// useStorage
// =============================================================================

type storageSlot struct {
	key       storage.Key
	value     goja.Value
	lastError goja.Value
	setter    goja.Value
	dirty     bool // set locally since the last load
}

// useStorage(key, defaultValue, path?, useRootNamespace?) -> [value, set, lastError]
func (b *builder) useStorage(call goja.FunctionCall) goja.Value {
	rt := b.rt
	def := call.Argument(1)
	k := storage.Key{Document: b.target(call, 2), Name: argString(call, 0), Root: argBool(call, 3)}

	st := ui.Slot(b.r, func() *storageSlot {
		return &storageSlot{value: def, lastError: goja.Null()}
	})
	if st.key != k {
		st.key = k
		st.dirty = false
	}
	if st.setter == nil {
		st.setter = rt.ToValue(func(c goja.FunctionCall) goja.Value {
			return b.storageSet(st, c.Argument(0))
		})
	}

	mgr := b.env.Storage
	b.r.Effect("storage:"+k.String(), func() func() {
		if mgr == nil {
			return nil
		}
		cancelled := false
		b.r.Loop().Async(func(ctx context.Context) func(*goja.Runtime) {
			v, found, err := mgr.Get(ctx, k)
			return func(rt *goja.Runtime) {
				if cancelled || st.dirty {
					return
				}
				switch {
				case err != nil:
					logging.Get(logging.CategoryStorage).Warn("Loading %s failed, using default: %v", k, err)
					return
				case !found:
					return
				}
				st.value = toJS(rt, v)
				b.r.Invalidate()
			}
		})
		return func() { cancelled = true }
	})

	return rt.NewArray(st.value, st.setter, st.lastError)
}

// storageSet applies an update optimistically and persists it in the
// background. The returned promise always resolves; failures land in the
// hook's lastError slot.
func (b *builder) storageSet(st *storageSlot, next goja.Value) goja.Value {
	rt := b.rt
	if fn, ok := goja.AssertFunction(next); ok {
		v, err := fn(goja.Undefined(), st.value)
		if err != nil {
			panic(err)
		}
		next = v
	}
	st.value = next
	st.dirty = true
	b.r.Invalidate()

	p, resolve, _ := rt.NewPromise()
	mgr := b.env.Storage
	if mgr == nil {
		resolve(goja.Undefined())
		return rt.ToValue(p)
	}
	key := st.key
	done := mgr.Set(key, export(next))
	b.r.Loop().Async(func(ctx context.Context) func(*goja.Runtime) {
		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			return nil
		}
		return func(rt *goja.Runtime) {
			if err != nil {
				st.lastError = rt.ToValue(err.Error())
				b.env.Notifier.Notify(b.env.Document, fmt.Sprintf("Saving %q failed: %v", key.Name, err))
				b.r.Invalidate()
			} else if !goja.IsNull(st.lastError) {
				st.lastError = goja.Null()
				b.r.Invalidate()
			}
			resolve(goja.Undefined())
		}
	})
	return rt.ToValue(p)
}

// =============================================================================
// useMarketData
// =============================================================================

type marketSlot struct {
	data    goja.Value
	loading bool
	err     goja.Value
	refetch goja.Value
	resolve marketResolver
	gen     int
}

// marketResolver turns the hook arguments into a request at fetch time, so
// ranges relative to now are computed when the fetch runs.
type marketResolver func(now time.Time) (market.Request, error)

// useMarketData(symbol, interval, range | {start, end}) -> {data, loading, error, refetch}
func (b *builder) useMarketData(call goja.FunctionCall) goja.Value {
	rt := b.rt
	st := ui.Slot(b.r, func() *marketSlot {
		return &marketSlot{data: rt.NewArray(), loading: true, err: goja.Null()}
	})

	resolve, key, argErr := b.marketRequest(call)
	if st.refetch == nil {
		st.refetch = rt.ToValue(func(goja.FunctionCall) goja.Value {
			b.fetchSeries(st)
			return goja.Undefined()
		})
	}

	b.r.Effect("market:"+key, func() func() {
		if argErr != nil {
			st.loading = false
			st.err = jsError(b.rt, argErr.Error())
			b.r.Invalidate()
			return nil
		}
		st.resolve = resolve
		b.fetchSeries(st)
		return func() { st.gen++ }
	})

	obj := rt.NewObject()
	_ = obj.Set("data", st.data)
	_ = obj.Set("loading", st.loading)
	_ = obj.Set("error", st.err)
	_ = obj.Set("refetch", st.refetch)
	return obj
}

func (b *builder) fetchSeries(st *marketSlot) {
	fail := func(msg string) {
		st.loading = false
		st.err = jsError(b.rt, msg)
		b.r.Invalidate()
	}
	if b.env.Market == nil || b.env.MarketStore == nil {
		fail("market data is not configured")
		return
	}
	if st.resolve == nil {
		return
	}
	req, err := st.resolve(time.Now())
	if err != nil {
		fail(err.Error())
		return
	}
	st.gen++
	gen := st.gen
	if !st.loading {
		st.loading = true
		b.r.Invalidate()
	}
	svc, store := b.env.Market, b.env.MarketStore
	b.r.Loop().Async(func(ctx context.Context) func(*goja.Runtime) {
		candles, err := svc.GetSeries(ctx, req, store)
		return func(rt *goja.Runtime) {
			if gen != st.gen {
				return
			}
			st.loading = false
			if err != nil {
				logging.Get(logging.CategoryScope).Warn("useMarketData %s: %v", req, err)
				st.err = jsError(rt, types.AsFailure(err, types.RuntimeFailure).Message)
			} else {
				st.err = goja.Null()
				st.data = toJS(rt, candles)
			}
			b.r.Invalidate()
		}
	})
}

// marketRequest reads (symbol, interval, range) where range is a named range
// or an explicit {start, end} window. key identifies the request for effect
// deps and never depends on the wall clock; a window without end is keyed
// as open.
func (b *builder) marketRequest(call goja.FunctionCall) (marketResolver, string, error) {
	symbol := strings.ToUpper(argString(call, 0))
	ivName := argString(call, 1)
	if ivName == "" {
		ivName = string(market.IntervalDaily)
	}
	rng := call.Argument(2)
	key := symbol + "|" + ivName + "|"

	interval, err := market.ParseInterval(ivName)
	if err != nil {
		return nil, key, err
	}

	if obj, ok := rng.(*goja.Object); ok && !ui.IsNullish(rng) {
		start, okStart := types.ExtractTime(export(obj.Get("start")))
		if !okStart {
			return nil, key, fmt.Errorf("useMarketData: range.start must be a date, timestamp or ISO string")
		}
		end, hasEnd := types.ExtractTime(export(obj.Get("end")))
		resolve := func(now time.Time) (market.Request, error) {
			to := now
			if hasEnd {
				to = end
			}
			req := market.Request{Symbol: symbol, Interval: interval, StartTime: start.UnixMilli(), EndTime: to.UnixMilli()}
			return req, req.Validate()
		}
		if !hasEnd {
			return resolve, fmt.Sprintf("%s%d-open", key, start.UnixMilli()), nil
		}
		return resolve, fmt.Sprintf("%s%d-%d", key, start.UnixMilli(), end.UnixMilli()), nil
	}

	name := argString(call, 2)
	if name == "" {
		name = DefaultMarketRange
	}
	if _, err := market.RangeRequest(symbol, interval, name, time.Now()); err != nil {
		return nil, key + name, err
	}
	resolve := func(now time.Time) (market.Request, error) {
		req, err := market.RangeRequest(symbol, interval, name, now)
		if err != nil {
			return req, err
		}
		return req, req.Validate()
	}
	return resolve, key + name, nil
}

// =============================================================================
// analyzeOrderBlocks
// =============================================================================

// analyzeOrderBlocks(candles, symbol?, interval?) -> Promise<analysis>
func (b *builder) analyzeOrderBlocks(call goja.FunctionCall) goja.Value {
	an := b.env.Analyzer
	candles, convErr := candlesArg(export(call.Argument(0)))
	symbol := strings.ToUpper(argString(call, 1))
	ivName := argString(call, 2)
	if ivName == "" {
		ivName = string(market.IntervalDaily)
	}
	return b.promise(func(ctx context.Context) (interface{}, error) {
		if an == nil {
			return nil, market.ErrNoAnalyzer
		}
		if convErr != nil {
			return nil, convErr
		}
		interval, err := market.ParseInterval(ivName)
		if err != nil {
			return nil, err
		}
		return an.Analyze(ctx, symbol, interval, candles)
	})
}

// candlesArg reads an array of {time, open, high, low, close, volume}
// objects as exported from JS.
func candlesArg(v interface{}) ([]market.Candle, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("analyzeOrderBlocks: candles must be an array")
	}
	out := make([]market.Candle, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("analyzeOrderBlocks: candle %d is not an object", i)
		}
		t, ok := types.ExtractInt64(m["time"])
		if !ok {
			return nil, fmt.Errorf("analyzeOrderBlocks: candle %d has no time", i)
		}
		c := market.Candle{Time: t}
		c.Open, _ = types.ExtractFloat64(m["open"])
		c.High, _ = types.ExtractFloat64(m["high"])
		c.Low, _ = types.ExtractFloat64(m["low"])
		c.Close, _ = types.ExtractFloat64(m["close"])
		c.Volume, _ = types.ExtractFloat64(m["volume"])
		out = append(out, c)
	}
	return out, nil
}
