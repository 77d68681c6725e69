package tracker

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mptrack/internal/collector"
	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/pkg/commerce"
	"github.com/rzbill/mptrack/pkg/types"
)

type fixture struct {
	tr   *Tracker
	coll *collector.Collector
	cfg  config.Config
}

func testConfig(srvURL string) config.Config {
	cfg := config.Default()
	cfg.CDNBaseURL = srvURL
	cfg.IdentityURL = srvURL + "/v1"
	cfg.RequestConfig = true
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

// setup mirrors the three-instance layout: apiKeyN resolves to wtTestN, the
// default instance uses apiKey1 and instance2/instance3 the others.
func setup(t *testing.T) *fixture {
	t.Helper()
	coll := collector.New(collector.Options{WorkspaceTokens: map[string]string{
		"apiKey1": "wtTest1", "apiKey2": "wtTest2", "apiKey3": "wtTest3",
	}})
	srv := httptest.NewServer(coll.Handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	tr, err := New(Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	f := &fixture{tr: tr, coll: coll, cfg: cfg}
	f.initAll(t)
	return f
}

func (f *fixture) initAll(t *testing.T) {
	t.Helper()
	_, err := f.tr.Init("apiKey1", &f.cfg)
	require.NoError(t, err)
	_, err = f.tr.Init("apiKey2", &f.cfg, "instance2")
	require.NoError(t, err)
	_, err = f.tr.Init("apiKey3", &f.cfg, "instance3")
	require.NoError(t, err)
	for _, n := range []string{"", "instance2", "instance3"} {
		in, err := f.tr.GetInstance(n)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, in.WaitReady(ctx))
		cancel()
	}
}

func (f *fixture) flushAll(t *testing.T) {
	t.Helper()
	for _, n := range []string{"", "instance2", "instance3"} {
		in, err := f.tr.GetInstance(n)
		require.NoError(t, err)
		require.NoError(t, in.Flush(context.Background()))
	}
}

func TestInstancesHaveTheirOwnRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i, apiKey := range []string{"apiKey1", "apiKey2", "apiKey3"} {
		token := []string{"wtTest1", "wtTest2", "wtTest3"}[i]
		store := f.tr.Runtime().OpenStore(persist.Namespace{WorkspaceToken: token})
		assert.Equal(t, "mprtcl-v4_"+token, store.Key())
		rec, found, err := store.Load(ctx)
		require.NoError(t, err)
		require.True(t, found, token)
		assert.Equal(t, []string{apiKey}, rec.APIKeys, "no other instance's apiKey in %s", token)
	}
}

func TestInstancesSharingATokenShareOneRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.coll.SetWorkspaceToken("apiKey4", "wtTest1")
	in4, err := f.tr.Init("apiKey4", &f.cfg, "instance4")
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, in4.WaitReady(wctx))
	def, err := f.tr.GetInstance()
	require.NoError(t, err)
	assert.Equal(t, def.StoreKey(), in4.StoreKey())

	require.NoError(t, def.SetIntegrationAttribute("1", map[string]string{"a": "1"}))
	require.NoError(t, in4.SetIntegrationAttribute("4", map[string]string{"a": "4"}))
	got, err := def.IntegrationAttributes(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "4"}, got)

	snap, err := in4.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"apiKey1", "apiKey4"}, snap.SharedWith)
	rec, found, err := f.tr.Runtime().OpenStore(persist.Namespace{WorkspaceToken: "wtTest1"}).Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, rec.IntegrationAttributes, 2, "neither instance overwrote the other")

	require.NoError(t, def.LogEvent("one", types.EventTypeOther, nil))
	require.NoError(t, in4.LogEvent("four", types.EventTypeOther, nil))
	f.flushAll(t)
	require.NoError(t, in4.Flush(ctx))
	assert.Equal(t, 1, f.coll.CountEvents("apiKey1", "one"))
	assert.Equal(t, 1, f.coll.CountEvents("apiKey4", "four"))
	assert.Zero(t, f.coll.CountEvents("apiKey4", "one"))
	assert.Zero(t, f.coll.CountEvents("apiKey1", "four"))
}

func TestEventsRouteToTheirOwnInstance(t *testing.T) {
	f := setup(t)
	def, err := f.tr.GetInstance(DefaultInstanceName)
	require.NoError(t, err)
	in2, err := f.tr.GetInstance("instance2")
	require.NoError(t, err)
	in3, err := f.tr.GetInstance("instance3")
	require.NoError(t, err)

	require.NoError(t, def.LogEvent("hi1", types.EventTypeUnknown, nil))
	require.NoError(t, in2.LogEvent("hi2", types.EventTypeUnknown, nil))
	require.NoError(t, in3.LogEvent("hi3", types.EventTypeUnknown, nil))
	f.flushAll(t)

	keys := []string{"apiKey1", "apiKey2", "apiKey3"}
	names := []string{"hi1", "hi2", "hi3"}
	for i, k := range keys {
		for j, n := range names {
			want := 0
			if i == j {
				want = 1
			}
			assert.Equal(t, want, f.coll.RequestsMentioning(k, `"`+n+`"`), "%s under %s", n, k)
		}
	}
}

func TestPurchasesRouteToTheirOwnInstance(t *testing.T) {
	f := setup(t)
	product1, err := commerce.Product{
		Name: "iphone", SKU: "iphoneSKU", Price: 999, Quantity: 1,
		Variant: "variant", Category: "category", Brand: "brand", Position: 1, CouponCode: "coupon",
		CustomAttributes: map[string]string{"journeyType": "testjourneytype1", "eventMetric1": "metric2"},
	}.Normalize()
	require.NoError(t, err)
	product2, err := commerce.Product{
		Name: "galaxy", SKU: "galaxySKU", Price: 799, Quantity: 1,
		Variant: "variant", Category: "category", Brand: "brand", Position: 1, CouponCode: "coupon",
		CustomAttributes: map[string]string{"hit-att2": "hit-att2-type", "prodMetric1": "metric1"},
	}.Normalize()
	require.NoError(t, err)
	ta, err := commerce.NewTransactionAttributes("TAid1", "aff1", "coupon", 1798, 10, 5)
	require.NoError(t, err)
	products := []commerce.Product{product1, product2}

	tally := func() []int {
		f.flushAll(t)
		return []int{
			f.coll.RequestsMentioning("apiKey1", "eCommerce - Purchase"),
			f.coll.RequestsMentioning("apiKey2", "eCommerce - Purchase"),
			f.coll.RequestsMentioning("apiKey3", "eCommerce - Purchase"),
		}
	}

	def, err := f.tr.GetInstance()
	require.NoError(t, err)
	require.NoError(t, def.ECommerce().LogPurchase(ta, products, nil))
	assert.Equal(t, []int{1, 0, 0}, tally())

	in2, err := f.tr.GetInstance("instance2")
	require.NoError(t, err)
	require.NoError(t, in2.ECommerce().LogPurchase(ta, products, nil))
	assert.Equal(t, []int{1, 1, 0}, tally())

	in3, err := f.tr.GetInstance("instance3")
	require.NoError(t, err)
	require.NoError(t, in3.ECommerce().LogPurchase(ta, products, nil))
	assert.Equal(t, []int{1, 1, 1}, tally())
	assert.Equal(t, 1, f.coll.CountPurchases("apiKey3"))
}

func TestResetThenInitStartsClean(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	hourly := f.cfg
	hourly.UploadInterval = time.Hour
	in, err := f.tr.Init("apiKey1", &hourly)
	require.NoError(t, err)
	require.NoError(t, in.LogEvent("stale", types.EventTypeOther, nil))
	pending, err := in.Pending(ctx)
	require.NoError(t, err)
	require.Positive(t, pending)

	require.NoError(t, f.tr.Reset(ctx))
	assert.Empty(t, f.tr.Names())
	_, err = f.tr.GetInstance()
	assert.ErrorIs(t, err, ErrUnknownInstance)
	assert.ErrorIs(t, f.tr.LogEvent("x", types.EventTypeOther, nil), ErrUnknownInstance)

	f.coll.Clear()
	f.initAll(t)
	f.flushAll(t)
	assert.Zero(t, f.coll.RequestsMentioning("apiKey1", "stale"), "no residual events after reset")
	def, err := f.tr.GetInstance()
	require.NoError(t, err)
	n, err := def.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetForTestsReplacesBaseConfig(t *testing.T) {
	f := setup(t)
	cfg := f.cfg
	cfg.AppName = "replaced"
	require.NoError(t, f.tr.ResetForTests(context.Background(), cfg))
	in, err := f.tr.Init("apiKey1", nil)
	require.NoError(t, err)
	assert.Equal(t, "replaced", in.Config().AppName)
}

func TestGetInstanceDefaults(t *testing.T) {
	f := setup(t)
	a, err := f.tr.GetInstance()
	require.NoError(t, err)
	b, err := f.tr.GetInstance(DefaultInstanceName)
	require.NoError(t, err)
	c, err := f.tr.GetInstance("")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, c)
	assert.Equal(t, "apiKey1", a.APIKey())

	_, err = f.tr.GetInstance("instance4")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestReinitReplacesInstance(t *testing.T) {
	f := setup(t)
	old, err := f.tr.GetInstance("instance2")
	require.NoError(t, err)
	fresh, err := f.tr.Init("apiKey2", &f.cfg, "instance2")
	require.NoError(t, err)
	got, err := f.tr.GetInstance("instance2")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.Equal(t, "closed", old.State().String())
}

func TestReinitKeepsQueuedEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	hourly := f.cfg
	hourly.UploadInterval = time.Hour
	old, err := f.tr.Init("apiKey2", &hourly, "instance2")
	require.NoError(t, err)
	for _, n := range []string{"q1", "q2", "q3"} {
		require.NoError(t, old.LogEvent(n, types.EventTypeOther, nil))
	}
	_, err = old.Pending(ctx)
	require.NoError(t, err)

	fresh, err := f.tr.Init("apiKey2", &hourly, "instance2")
	require.NoError(t, err)
	require.NoError(t, fresh.LogEvent("q4", types.EventTypeOther, nil))
	require.NoError(t, fresh.Flush(ctx))
	for _, n := range []string{"q1", "q2", "q3", "q4"} {
		assert.Equal(t, 1, f.coll.CountEvents("apiKey2", n), n)
	}
}

func TestStrictInitRejectsDuplicates(t *testing.T) {
	coll := collector.New(collector.Options{WorkspaceTokens: map[string]string{"apiKey1": "wtTest1"}})
	srv := httptest.NewServer(coll.Handler())
	defer srv.Close()
	tr, err := New(Options{Config: testConfig(srv.URL), StrictInit: true})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Init("apiKey1", nil)
	require.NoError(t, err)
	_, err = tr.Init("apiKey1", nil)
	assert.ErrorIs(t, err, ErrDuplicateInstance)
}

func TestStrictInitRejectedDuplicateLeavesNoState(t *testing.T) {
	coll := collector.New(collector.Options{WorkspaceTokens: map[string]string{"apiKey1": "wtTest1"}})
	srv := httptest.NewServer(coll.Handler())
	defer srv.Close()
	cfg := testConfig(srv.URL)
	cfg.RequestConfig = false
	cfg.WorkspaceToken = "wtTest1"
	tr, err := New(Options{Config: cfg, StrictInit: true})
	require.NoError(t, err)
	defer tr.Close()
	ctx := context.Background()

	first, err := tr.Init("apiKey1", nil)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, first.WaitReady(wctx))

	_, err = tr.Init("apiKey4", nil)
	require.ErrorIs(t, err, ErrDuplicateInstance)

	rec, found, err := tr.Runtime().OpenStore(persist.Namespace{WorkspaceToken: "wtTest1"}).Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"apiKey1"}, rec.APIKeys)
	got, err := tr.GetInstance()
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Empty(t, coll.EventRequests("apiKey4"))
}

func TestDefaultSugarForwards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.tr.LogEvent("sugar", types.EventTypeNavigation, nil))
	require.NoError(t, f.tr.LogPageView("home", nil))
	require.NoError(t, f.tr.LogError("oops", nil))
	require.NoError(t, f.tr.SetSessionAttribute("k", "v"))
	require.NoError(t, f.tr.SetAppName("sugar-app"))
	require.NoError(t, f.tr.SetAppVersion("3.1"))
	sid, err := f.tr.SessionID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	device, err := f.tr.DeviceID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, device)
	require.NoError(t, f.tr.StartNewSession())
	require.NoError(t, f.tr.EndSession())
	ec, err := f.tr.ECommerce()
	require.NoError(t, err)
	require.NoError(t, ec.SetCurrencyCode("EUR"))
	id, err := f.tr.Identity()
	require.NoError(t, err)
	user, err := id.CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, user.MPID)
	ready, err := f.tr.Ready()
	require.NoError(t, err)
	<-ready
	require.NoError(t, f.tr.Flush(ctx))

	assert.Equal(t, 1, f.coll.CountEvents("apiKey1", "sugar"))
	assert.Equal(t, 1, f.coll.CountEvents("apiKey1", "home"))
	assert.Zero(t, f.coll.CountEvents("apiKey2", "sugar"))
	assert.Positive(t, f.coll.RequestsMentioning("apiKey1", `"an":"sugar-app","av":"3.1"`))

	require.NoError(t, f.tr.SetOptOut(true))
	require.NoError(t, f.tr.LogEvent("muted", types.EventTypeNavigation, nil))
	require.NoError(t, f.tr.Flush(ctx))
	assert.Zero(t, f.coll.CountEvents("apiKey1", "muted"))
}

func TestCloseKeepsStorage(t *testing.T) {
	coll := collector.New(collector.Options{WorkspaceTokens: map[string]string{"apiKey1": "wtTest1"}})
	srv := httptest.NewServer(coll.Handler())
	defer srv.Close()
	cfg := testConfig(srv.URL)
	cfg.Storage.Backend = "pebble"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "always"
	cfg.UploadInterval = time.Hour

	tr, err := New(Options{Config: cfg})
	require.NoError(t, err)
	in, err := tr.Init("apiKey1", nil)
	require.NoError(t, err)
	require.NoError(t, in.LogEvent("durable", types.EventTypeOther, nil))
	_, err = in.Pending(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	assert.Zero(t, coll.CountEvents("apiKey1", "durable"))

	tr2, err := New(Options{Config: cfg})
	require.NoError(t, err)
	defer tr2.Close()
	in2, err := tr2.Init("apiKey1", nil)
	require.NoError(t, err)
	require.NoError(t, in2.Flush(context.Background()))
	assert.Equal(t, 1, coll.CountEvents("apiKey1", "durable"))
}
