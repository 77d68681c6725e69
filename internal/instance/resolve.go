package instance

import (
	"context"

	"github.com/google/uuid"

	"github.com/rzbill/mptrack/internal/identity"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/remoteconfig"
	"github.com/rzbill/mptrack/pkg/log"
)

// resolve materializes the workspace token and store, then performs the
// start-up work of a Ready instance.
func (in *Instance) resolve() error {
	in.setState(StateResolving)

	token, err := in.resolveToken()
	if err != nil {
		return err
	}
	ctx := context.Background()
	ns := persist.Namespace{Development: in.cfg.IsDevelopment(), WorkspaceToken: token}
	if _, err := in.rt.EnsureNamespace(ctx, ns, in.apiKey); err != nil {
		return err
	}
	store := in.rt.OpenStore(ns)
	attached, err := store.Attach(ctx, in.apiKey, uuid.NewString)
	if err != nil {
		in.log.Error("persist record failed", log.Err(err))
		return err
	}
	if attached.Discarded != nil {
		in.log.Warn("discarded corrupt record", log.Str("store_key", store.Key()), log.Err(attached.Discarded))
	}
	outbox, err := store.Outbox(ctx, in.apiKey)
	if err != nil {
		return err
	}
	pending, err := outbox.Len(ctx)
	if err != nil {
		return err
	}
	in.store, in.outbox, in.unsent = store, outbox, pending
	in.mu.Lock()
	in.workspaceToken = token
	in.storeKey = store.Key()
	in.mu.Unlock()

	// Stop may have raced with the storage work above.
	select {
	case <-in.closing:
		return context.Canceled
	default:
	}
	in.setState(StateReady)
	in.markReady()
	in.log.Info("instance ready",
		log.Str("workspace_token", token), log.Str("store_key", store.Key()), log.Int("pending", pending))

	if in.cfg.IdentifyOnInit && in.cfg.IdentityURL != "" {
		if _, err := in.doIdentity(in.ctx, identity.Identify, identity.Request{}); err != nil {
			in.log.Warn("initial identify failed", log.Err(err))
		}
	}
	if in.unsent > 0 {
		_ = in.upload(in.ctx)
	}
	in.ensureSession()
	return nil
}

// resolveToken fetches the token remotely when configured to, degrading to
// the configured token and then to the apiKey.
func (in *Instance) resolveToken() (string, error) {
	token := in.cfg.WorkspaceToken
	if in.cfg.RequestConfig {
		rc, err := in.rt.RemoteConfig().Fetch(in.ctx, remoteconfig.Request{
			BaseURL:     in.cfg.CDNBaseURL,
			APIKey:      in.apiKey,
			Development: in.cfg.IsDevelopment(),
		})
		switch {
		case err == nil:
			return rc.WorkspaceToken, nil
		case in.ctx.Err() != nil:
			return "", in.ctx.Err()
		default:
			in.log.Warn("remote config unavailable, using local token", log.Err(err))
		}
	}
	if token == "" {
		token = in.apiKey
	}
	return token, nil
}

// update applies fn to the shared record and persists it. fn runs under
// the store lock and must not call back into the instance.
func (in *Instance) update(fn func(r *persist.Record)) error {
	if err := in.store.Update(context.Background(), fn); err != nil {
		in.log.Error("persist record failed", log.Err(err))
		return err
	}
	return nil
}

// view calls fn with the shared record. fn must not retain it.
func (in *Instance) view(fn func(r *persist.Record)) {
	if err := in.store.View(context.Background(), fn); err != nil {
		in.log.Error("read record failed", log.Err(err))
	}
}
