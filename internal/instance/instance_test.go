package instance

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mptrack/internal/collector"
	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/identity"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/pkg/commerce"
	"github.com/rzbill/mptrack/pkg/consent"
	"github.com/rzbill/mptrack/pkg/types"
)

func TestResolvesWorkspaceToken(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "instance1", "apiKey1", nil)
	waitReady(t, in)

	assert.Equal(t, StateReady, in.State())
	assert.Equal(t, "wtTest1", in.WorkspaceToken())
	assert.Equal(t, "mprtcl-v4_wtTest1", in.StoreKey())
	require.NotEmpty(t, e.coll.Requests())
	assert.Contains(t, e.coll.Requests()[0].Path, "env=0")

	snap, err := in.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "apiKey1", snap.APIKey)
	assert.NotEmpty(t, snap.DeviceID)
	assert.NotEmpty(t, snap.CurrentMPID, "identify runs on init")
	assert.NotEmpty(t, snap.SessionID)
}

func TestDevelopmentStoreKey(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "", "apiKey2", func(c *config.Config) { c.Environment = config.Development })
	waitReady(t, in)
	assert.Equal(t, DefaultName, in.Name())
	assert.Equal(t, "mprtcl-devv4_wtTest2", in.StoreKey())
	assert.Contains(t, e.coll.Requests()[0].Path, "env=1")
}

func TestStoppedInstanceDoesNotFailSharedConfigFetch(t *testing.T) {
	e := newEnv(t, true)
	first := e.start(t, "first", "apiKey1", nil)
	second := e.start(t, "second", "apiKey1", nil)
	e.waitArrived(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Stop(ctx))
	e.release()

	waitReady(t, second)
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, "wtTest1", second.WorkspaceToken())
	assert.Equal(t, "mprtcl-v4_wtTest1", second.StoreKey())
}

func TestStopBeforeStart(t *testing.T) {
	e := newEnv(t, false)
	in, err := New(Options{Name: "idle", APIKey: "apiKey1", Config: e.config(), Runtime: e.rt})
	require.NoError(t, err)
	require.NoError(t, in.LogEvent("never", types.EventTypeOther, nil))
	require.NoError(t, in.Close())
	in.Start()

	assert.Equal(t, StateClosed, in.State())
	assert.ErrorIs(t, in.LogEvent("late", types.EventTypeOther, nil), ErrClosed)
	assert.Zero(t, e.mem.Len())
	assert.Empty(t, e.coll.Requests())
}

func TestInstancesSharingATokenShareTheRecord(t *testing.T) {
	e := newEnv(t, false)
	e.coll.SetWorkspaceToken("apiKey4", "wtTest1")
	a := e.start(t, "a", "apiKey1", nil)
	b := e.start(t, "b", "apiKey4", nil)
	waitReady(t, a)
	waitReady(t, b)
	require.Equal(t, a.StoreKey(), b.StoreKey())
	ctx := context.Background()

	require.NoError(t, a.SetIntegrationAttribute("x", map[string]string{"from": "a"}))
	require.NoError(t, b.SetIntegrationAttribute("y", map[string]string{"from": "b"}))
	flush(t, a)
	flush(t, b)

	got, err := b.IntegrationAttributes(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"from": "a"}, got, "writes of one instance are visible to the other")

	rec, found, err := e.rt.OpenStore(persist.Namespace{WorkspaceToken: "wtTest1"}).Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]map[string]string{"x": {"from": "a"}, "y": {"from": "b"}}, rec.IntegrationAttributes)
	assert.Equal(t, []string{"apiKey1", "apiKey4"}, rec.APIKeys)

	sa, err := a.Snapshot(ctx)
	require.NoError(t, err)
	sb, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "apiKey1", sa.APIKey)
	assert.Equal(t, "apiKey4", sb.APIKey)
	assert.Equal(t, sa.DeviceID, sb.DeviceID)
	assert.Equal(t, sa.SessionID, sb.SessionID)

	require.NoError(t, a.LogEvent("fromA", types.EventTypeOther, nil))
	require.NoError(t, b.LogEvent("fromB", types.EventTypeOther, nil))
	flush(t, a)
	flush(t, b)
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "fromA"))
	assert.Zero(t, e.coll.CountEvents("apiKey4", "fromA"))
	assert.Equal(t, 1, e.coll.CountEvents("apiKey4", "fromB"))
	assert.Zero(t, e.coll.CountEvents("apiKey1", "fromB"))
}

func TestSameAPIKeyUnderTwoNamesKeepsEveryEvent(t *testing.T) {
	e := newEnv(t, false)
	hourly := func(c *config.Config) { c.UploadInterval = time.Hour }
	a := e.start(t, "a", "apiKey1", hourly)
	b := e.start(t, "b", "apiKey1", hourly)
	waitReady(t, a)
	waitReady(t, b)

	var wg sync.WaitGroup
	for _, in := range []*Instance{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, in.LogEvent(fmt.Sprintf("%s-%d", in.Name(), i), types.EventTypeOther, nil))
			}
		}()
	}
	wg.Wait()
	flush(t, a)
	flush(t, b)

	for _, n := range []string{"a", "b"} {
		for i := 0; i < 50; i++ {
			name := fmt.Sprintf("%s-%d", n, i)
			assert.Equal(t, 1, e.coll.CountEvents("apiKey1", name), name)
		}
	}
}

func TestRemoteConfigFailureDegrades(t *testing.T) {
	e := newEnv(t, false)
	local := e.start(t, "a", "unknownKey", func(c *config.Config) { c.WorkspaceToken = "localToken" })
	bare := e.start(t, "b", "otherUnknownKey", nil)
	waitReady(t, local)
	waitReady(t, bare)

	assert.Equal(t, "localToken", local.WorkspaceToken())
	assert.Equal(t, "otherUnknownKey", bare.WorkspaceToken())
}

func TestLocalTokenSkipsRemoteConfig(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "a", "apiKey1", func(c *config.Config) {
		c.RequestConfig = false
		c.WorkspaceToken = "pinned"
	})
	waitReady(t, in)
	assert.Equal(t, "pinned", in.WorkspaceToken())
	for _, r := range e.coll.Requests() {
		assert.NotEqual(t, collector.KindConfig, r.Kind)
	}
}

func TestCallsQueueUntilResolved(t *testing.T) {
	e := newEnv(t, true)
	in := e.start(t, "queued", "apiKey1", nil)

	require.NoError(t, in.LogEvent("early", types.EventTypeNavigation, nil))
	assert.Contains(t, []State{StateUninitialized, StateResolving}, in.State())
	assert.Empty(t, e.coll.EventRequests("apiKey1"), "nothing is sent before resolution")
	assert.Zero(t, e.mem.Len(), "nothing is stored before resolution")

	e.release()
	flush(t, in)
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "early"))
}

func TestUploadsEachEventImmediately(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)

	require.NoError(t, in.LogEvent("hi1", types.EventTypeNavigation, map[string]any{"k": "v"}))
	require.NoError(t, in.LogEvent("hi1b", types.EventTypeOther, nil))
	flush(t, in)

	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"hi1"`))
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"hi1b"`))
	assert.Len(t, e.coll.EventRequests("apiKey1"), 2)
}

func TestBatchesOnInterval(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.UploadInterval = time.Hour })

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, in.LogEvent(n, types.EventTypeNavigation, nil))
	}
	pending, err := in.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, pending, "three events and the session start")
	assert.Empty(t, e.coll.EventRequests("apiKey1"))

	flush(t, in)
	batches := e.coll.Batches("apiKey1")
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Messages, 4)
}

func TestBatchSizeTriggersUpload(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) {
		c.UploadInterval = time.Hour
		c.UploadBatchSize = 2
	})
	require.NoError(t, in.LogEvent("a", types.EventTypeNavigation, nil))
	pending, err := in.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending, "session start plus one event fill the batch")
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "a"))
}

func TestFailedUploadKeepsMessages(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	waitReady(t, in)

	e.coll.FailNext(collector.KindEvents, 100, http.StatusBadRequest)
	require.NoError(t, in.LogEvent("kept", types.EventTypeNavigation, nil))
	assert.Error(t, in.Flush(context.Background()))
	pending, err := in.Pending(context.Background())
	require.NoError(t, err)
	assert.Positive(t, pending)

	e.coll.Clear()
	flush(t, in)
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "kept"))
	pending, err = in.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPendingSurvivesRestart(t *testing.T) {
	e := newEnv(t, false)
	hourly := func(c *config.Config) { c.UploadInterval = time.Hour }
	first := e.start(t, "i", "apiKey1", hourly)
	waitReady(t, first)
	require.NoError(t, first.LogEvent("carried", types.EventTypeNavigation, nil))
	pending, err := first.Pending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, pending)
	require.NoError(t, first.Close())
	assert.Equal(t, StateClosed, first.State())
	assert.Zero(t, e.coll.CountEvents("apiKey1", "carried"))

	second := e.start(t, "i", "apiKey1", hourly)
	flush(t, second)
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "carried"))
}

func TestOptOutDropsEvents(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)

	require.NoError(t, in.SetOptOut(true))
	require.NoError(t, in.LogEvent("dropped", types.EventTypeNavigation, nil))
	flush(t, in)
	out, err := in.OptOut(context.Background())
	require.NoError(t, err)
	assert.True(t, out)
	assert.Zero(t, e.coll.CountEvents("apiKey1", "dropped"))
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"dt":"o"`))

	require.NoError(t, in.SetOptOut(false))
	require.NoError(t, in.LogEvent("kept", types.EventTypeNavigation, nil))
	flush(t, in)
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "kept"))
}

func TestEventFilter(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.EventFilter = `!name.startsWith("debug_")` })
	require.NoError(t, in.LogEvent("debug_x", types.EventTypeOther, nil))
	require.NoError(t, in.LogEvent("real", types.EventTypeOther, nil))
	flush(t, in)
	assert.Zero(t, e.coll.CountEvents("apiKey1", "debug_x"))
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "real"))

	_, err := New(Options{APIKey: "k", Runtime: e.rt, Config: func() config.Config {
		c := e.config()
		c.EventFilter = "name =="
		return c
	}()})
	assert.Error(t, err)
}

func TestInvalidEvents(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	assert.ErrorIs(t, in.LogEvent("", types.EventTypeOther, nil), ErrInvalidEvent)
	assert.ErrorIs(t, in.LogEvent("x", types.EventType(99), nil), ErrInvalidEvent)
	assert.ErrorIs(t, in.LogError("", nil), ErrInvalidEvent)
}

func TestPageViewErrorAndNavigation(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.UploadInterval = time.Hour })
	require.NoError(t, in.LogPageView("", nil))
	require.NoError(t, in.LogError("boom", map[string]any{"where": "checkout"}))
	require.NoError(t, in.LogLink("footer", nil))
	require.NoError(t, in.LogForm("signup", nil))
	flush(t, in)

	kinds := map[string]string{}
	for _, b := range e.coll.Batches("apiKey1") {
		for _, m := range b.Messages {
			kinds[m.Name] = m.Type
		}
	}
	assert.Equal(t, "pv", kinds["PageView"])
	assert.Equal(t, "x", kinds["boom"])
	assert.Equal(t, "e", kinds["footer"])
	assert.Equal(t, "e", kinds["signup"])
}

func TestPurchase(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)

	product, err := commerce.NewProduct("iphone", "iphoneSKU", 999, 1)
	require.NoError(t, err)
	ta, err := commerce.NewTransactionAttributes("TAid1", "aff1", "coupon", 1798, 10, 5)
	require.NoError(t, err)
	require.NoError(t, in.ECommerce().SetCurrencyCode("USD"))
	require.NoError(t, in.ECommerce().LogPurchase(ta, []commerce.Product{product}, map[string]any{"sale": true}))
	flush(t, in)

	assert.Equal(t, 1, e.coll.CountPurchases("apiKey1"))
	assert.Equal(t, 1, e.coll.CountEvents("apiKey1", "eCommerce - Purchase"))
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"cu":"USD"`))

	assert.ErrorIs(t, in.ECommerce().LogPurchase(commerce.TransactionAttributes{}, nil, nil), commerce.ErrInvalidTransaction)
	assert.ErrorIs(t, in.ECommerce().SetCurrencyCode("dollars"), commerce.ErrInvalidCurrency)
}

func TestOtherCommerceEvents(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.UploadInterval = time.Hour })
	p, err := commerce.NewProduct("galaxy", "galaxySKU", 799, 1)
	require.NoError(t, err)
	imp, err := commerce.NewImpression("search", p)
	require.NoError(t, err)

	ec := in.ECommerce()
	require.NoError(t, ec.LogProductAction(types.ProductActionAddToCart, []commerce.Product{p}, nil))
	require.NoError(t, ec.LogCheckout(1, "visa", []commerce.Product{p}, nil))
	require.NoError(t, ec.LogPromotion(types.PromotionActionClick, []commerce.Promotion{{ID: "promo1"}}, nil))
	require.NoError(t, ec.LogImpression([]commerce.Impression{imp}, nil))
	require.NoError(t, ec.LogRefund(commerce.TransactionAttributes{ID: "TAid1"}, nil, nil))
	assert.ErrorIs(t, ec.LogProductAction(types.ProductActionUnknown, nil, nil), ErrInvalidEvent)
	assert.ErrorIs(t, ec.LogPromotion(types.PromotionUnknown, nil, nil), ErrInvalidEvent)
	flush(t, in)

	for _, name := range []string{"eCommerce - Add to Cart", "eCommerce - Checkout", "eCommerce - click", "eCommerce - Impression", "eCommerce - Refund"} {
		assert.Equal(t, 1, e.coll.CountEvents("apiKey1", name), name)
	}
	assert.Zero(t, e.coll.CountPurchases("apiKey1"))
}

func TestIdentityFlow(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	ctx := context.Background()

	anon, err := in.Identity().CurrentUser(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, anon.MPID)
	assert.False(t, anon.IsLoggedIn)

	res, err := in.Identity().Login(ctx, identity.Request{UserIdentities: map[types.IdentityType]string{types.IdentityCustomerID: "c1"}})
	require.NoError(t, err)
	assert.True(t, res.IsLoggedIn)

	user, err := in.Identity().CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.MPID, user.MPID)
	assert.Equal(t, "c1", user.Identities["customerid"])

	_, err = in.Identity().Modify(ctx, identity.Request{UserIdentities: map[types.IdentityType]string{types.IdentityEmail: "a@b.c"}})
	require.NoError(t, err)
	user, err = in.Identity().CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"customerid": "c1", "email": "a@b.c"}, user.Identities)

	require.NoError(t, in.Identity().SetUserAttribute("tier", "gold"))
	user, err = in.Identity().CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gold", user.Attributes["tier"])

	out, err := in.Identity().Logout(ctx, identity.Request{})
	require.NoError(t, err)
	assert.Equal(t, anon.MPID, out.MPID)

	require.NoError(t, in.LogEvent("after_logout", types.EventTypeOther, nil))
	flush(t, in)
	for _, b := range e.coll.Batches("apiKey1") {
		for _, m := range b.Messages {
			if m.Name == "after_logout" {
				assert.Equal(t, anon.MPID, m.MPID)
			}
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.UploadInterval = time.Hour })
	ctx := context.Background()

	require.NoError(t, in.SetSessionAttribute("plan", "pro"))
	before, err := in.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, in.StartNewSession())
	after, err := in.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.SessionID, after.SessionID)

	require.NoError(t, in.EndSession())
	flush(t, in)

	var starts, ends int
	for _, b := range e.coll.Batches("apiKey1") {
		for _, m := range b.Messages {
			switch m.Type {
			case "ss":
				starts++
			case "se":
				ends++
			}
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, ends)
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"sa":{"plan":"pro"}`))
}

func TestIntegrationAttributes(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	ctx := context.Background()

	require.NoError(t, in.SetIntegrationAttribute("128", map[string]string{"client_id": "abc"}))
	got, err := in.IntegrationAttributes(ctx, "128")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client_id": "abc"}, got)

	require.NoError(t, in.SetIntegrationAttribute("128", nil))
	got, err = in.IntegrationAttributes(ctx, "128")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConsentStateTravelsWithMessages(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	waitReady(t, in)
	ctx := context.Background()

	gdpr, err := consent.NewGDPR(true, 10, "privacy_v2", "signup", "")
	require.NoError(t, err)
	state, err := consent.NewState().AddGDPR("Analytics", gdpr)
	require.NoError(t, err)
	require.NoError(t, in.Identity().SetConsentState(state))
	require.NoError(t, in.LogEvent("consented", types.EventTypeOther, nil))
	flush(t, in)
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"con":{"gdpr":{"analytics":{"c":true`))

	user, err := in.Identity().CurrentUser(ctx)
	require.NoError(t, err)
	c, ok := user.Consent.GDPRConsent("analytics")
	require.True(t, ok)
	assert.Equal(t, "privacy_v2", c.Document)

	require.NoError(t, in.Identity().SetConsentState(consent.NewState()))
	require.NoError(t, in.LogEvent("cleared", types.EventTypeOther, nil))
	flush(t, in)
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"con":`))
}

func TestDeviceSessionAndAppInfo(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) {
		c.AppName = "shop"
		c.AppVersion = "1.0"
	})
	ctx := context.Background()

	device, err := in.DeviceID(ctx)
	require.NoError(t, err)
	sid, err := in.SessionID(ctx)
	require.NoError(t, err)
	snap, err := in.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, device)
	assert.Equal(t, snap.DeviceID, device)
	assert.NotEmpty(t, sid)
	assert.Equal(t, snap.SessionID, sid)

	name, version, err := in.AppInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shop", name)
	assert.Equal(t, "1.0", version)

	require.NoError(t, in.SetAppName("shop-beta"))
	require.NoError(t, in.SetAppVersion("2.0"))
	require.NoError(t, in.LogEvent("versioned", types.EventTypeOther, nil))
	flush(t, in)
	assert.Equal(t, 1, e.coll.RequestsMentioning("apiKey1", `"an":"shop-beta","av":"2.0"`))

	require.NoError(t, in.EndSession())
	sid, err = in.SessionID(ctx)
	require.NoError(t, err)
	assert.Empty(t, sid)
}

func TestServerStoreMerged(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	require.NoError(t, in.LogEvent("x", types.EventTypeOther, nil))
	flush(t, in)
	snap, err := in.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.ServerStore, "lastBatchId")
}

func TestStopRejectsCalls(t *testing.T) {
	e := newEnv(t, false)
	in := e.start(t, "i", "apiKey1", nil)
	waitReady(t, in)
	require.NoError(t, in.Close())

	assert.Equal(t, StateClosed, in.State())
	assert.ErrorIs(t, in.LogEvent("late", types.EventTypeOther, nil), ErrClosed)
	assert.ErrorIs(t, in.Flush(context.Background()), ErrClosed)
}

func TestQueueFullAndStopWhileResolving(t *testing.T) {
	e := newEnv(t, true)
	in := e.start(t, "i", "apiKey1", func(c *config.Config) { c.MaxPendingOps = 2 })

	require.NoError(t, in.LogEvent("1", types.EventTypeOther, nil))
	require.NoError(t, in.LogEvent("2", types.EventTypeOther, nil))
	assert.ErrorIs(t, in.LogEvent("3", types.EventTypeOther, nil), ErrQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Stop(ctx))
	assert.Equal(t, StateClosed, in.State())
	assert.Empty(t, in.StoreKey())
	assert.Zero(t, e.mem.Len(), "stopping mid-resolution writes nothing")
	close(e.gate)
}
