package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/types"
)

// Normalize fetches the detail of every entry in accounts and builds a Tree.
// Entries without an id and details without sub-accounts are skipped with a
// warning. Any other failure aborts the whole tree.
func Normalize(ctx context.Context, api mygas.API, p retry.Policy, accounts *types.AccountsInfo) (*types.Tree, error) {
	switch {
	case accounts == nil:
		return nil, fmt.Errorf("%w: %w: no accounts info", retry.ErrUpdateFailed, ErrShapeMismatch)
	case len(accounts.ELSGroup) > 0:
		return normalizeUnified(ctx, api, p, accounts.ELSGroup)
	case len(accounts.LSPU) > 0:
		return normalizeIndependent(ctx, api, p, accounts.LSPU)
	}
	log.Ctx(ctx).WarnContext(ctx, "accounts info has neither els nor lspu")
	return nil, fmt.Errorf("%w: %w: neither elsGroup nor lspu present", retry.ErrUpdateFailed, ErrShapeMismatch)
}

func normalizeUnified(ctx context.Context, api mygas.API, p retry.Policy, groups []types.ELSGroupRef) (*types.Tree, error) {
	tree := &types.Tree{Organization: types.Unified}
	for _, g := range groups {
		id := int(g.ELS.ID)
		if id == 0 {
			log.Ctx(ctx).WarnContext(ctx, "id not found in els info")
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "getting els info", slog.Int("elsID", id))
		info, err := retry.Do(ctx, p, "get_els_info", func(ctx context.Context) (*types.ELSInfo, error) {
			return api.GetELSInfo(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		if len(info.LSPUInfoGroup) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "els info has no sub-accounts", slog.Int("elsID", id))
			continue
		}
		if info.ELS.JntAccountNum == "" {
			return nil, fmt.Errorf("%w: %w: els %d", retry.ErrUpdateFailed, ErrMissingAccountNumber, id)
		}
		tree.Accounts = append(tree.Accounts, types.UnifiedAccount{ID: id, Info: *info})
	}
	return tree, nil
}

func normalizeIndependent(ctx context.Context, api mygas.API, p retry.Policy, refs []types.LSPURef) (*types.Tree, error) {
	tree := &types.Tree{Organization: types.Independent}
	for _, ref := range refs {
		id := int(ref.ID)
		if id == 0 {
			log.Ctx(ctx).WarnContext(ctx, "id not found in lspu info")
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "getting lspu info", slog.Int("lspuID", id))
		items, err := retry.Do(ctx, p, "get_lspu_info", func(ctx context.Context) (types.LSPUInfo, error) {
			return api.GetLSPUInfo(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "lspu info has no sub-accounts", slog.Int("lspuID", id))
			continue
		}
		for i, item := range items {
			if item.Account == "" {
				return nil, fmt.Errorf("%w: %w: lspu %d item %d", retry.ErrUpdateFailed, ErrMissingAccountNumber, id, i)
			}
		}
		tree.Accounts = append(tree.Accounts, types.IndependentAccount{ID: id, Items: items})
	}
	return tree, nil
}
