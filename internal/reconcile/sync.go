// Pull-path reconciliation: full mirror refresh driven by provider queries.
//
// The provider caps the page size of message queries and silently truncates
// global ones, so completeness requires iterating chat by chat and paging
// within each chat. This is a correctness measure, not an optimization; a
// single bulk message query would drop history.
package reconcile

import (
	"context"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/repo"
)

const (
	// syncPageSize is the per-request message page, matching the provider cap.
	syncPageSize = 100
	// syncMaxPages bounds how deep into one chat's history a sync reaches.
	syncMaxPages = 10
)

// SyncSummary reports how many entities one pull run applied.
type SyncSummary struct {
	Contacts int `json:"contacts"`
	Chats    int `json:"chats"`
	Messages int `json:"messages"`
}

// PullSync refreshes the full mirror for one instance: contacts first, then
// chats, then messages chat by chat. Failures inside one chat are isolated;
// the run continues with the next chat and the summary counts what was
// actually applied.
func (e *Engine) PullSync(ctx context.Context, inst *domain.Instance) (*SyncSummary, error) {
	sum := &SyncSummary{}

	contacts, err := e.dir.FindContacts(ctx, inst.Name)
	if err != nil {
		return nil, err
	}
	sum.Contacts = e.UpsertContacts(ctx, inst.ID, contacts)

	chats, err := e.dir.FindChats(ctx, inst.Name)
	if err != nil {
		return nil, err
	}
	sum.Chats = e.UpsertChats(ctx, inst.ID, chats)

	local, err := repo.ListAllChats(ctx, e.db, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, ch := range local {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		n, err := e.syncChatMessages(ctx, inst, ch.RemoteJID)
		if err != nil {
			e.log.Error().Err(err).
				Str("instance", inst.Name).
				Str("jid", ch.RemoteJID).
				Msg("chat message sync failed")
			continue
		}
		sum.Messages += n
	}

	e.log.Info().
		Str("instance", inst.Name).
		Int("contacts", sum.Contacts).
		Int("chats", sum.Chats).
		Int("messages", sum.Messages).
		Msg("pull sync completed")
	return sum, nil
}

// syncChatMessages pages through one chat's history until a short page or the
// page cap is reached.
func (e *Engine) syncChatMessages(ctx context.Context, inst *domain.Instance, remoteJID string) (int, error) {
	applied := 0
	for page := 1; page <= syncMaxPages; page++ {
		recs, err := e.dir.FindMessages(ctx, inst.Name, remoteJID, page, syncPageSize)
		if err != nil {
			return applied, err
		}
		if len(recs) == 0 {
			break
		}
		applied += e.UpsertMessages(ctx, inst.ID, recs)
		if len(recs) < syncPageSize {
			break
		}
	}
	return applied, nil
}
