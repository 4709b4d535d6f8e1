package wsv

import "iroha-peer/internal/datamodel"

// View is the read-only scope: entity lookup, iteration, and query
// evaluation without mutation.
type View struct {
	world *datamodel.World
}

// Domain looks up a domain by id.
func (v *View) Domain(id datamodel.DomainId) (*datamodel.Domain, error) {
	return v.world.Domain(id)
}

// Account looks up an account by id.
func (v *View) Account(id datamodel.AccountId) (*datamodel.Account, error) {
	return v.world.Account(id)
}

// Asset looks up an asset by id.
func (v *View) Asset(id datamodel.AssetId) (*datamodel.Asset, error) {
	return v.world.Asset(id)
}

// Parameters returns the currently installed on-chain Parameters.
func (v *View) Parameters() datamodel.Parameters {
	return v.world.Parameters
}

// Executor returns the currently installed WASM policy module.
func (v *View) Executor() datamodel.Executor {
	return v.world.Executor
}

// Schema returns the permission token schema the executor last published.
func (v *View) Schema() datamodel.PermissionSchema {
	return v.world.Schema
}

// Peers returns the trusted peer set.
func (v *View) Peers() map[datamodel.PeerId]*datamodel.Peer {
	return v.world.Peers
}

// Role looks up a role by id.
func (v *View) Role(id datamodel.RoleId) (*datamodel.Role, error) {
	r, ok := v.world.Roles[id]
	if !ok {
		return nil, datamodel.ErrNotFound
	}
	return r, nil
}

// Trigger looks up a trigger by id.
func (v *View) Trigger(id datamodel.TriggerId) (*datamodel.Trigger, error) {
	t, ok := v.world.Triggers[id]
	if !ok {
		return nil, datamodel.ErrNotFound
	}
	return t, nil
}

// ChainId returns the chain identifier the underlying World was built for.
func (v *View) ChainId() datamodel.ChainId { return v.world.Chain }

// MatchingTriggers returns, in deterministic TriggerId order, every trigger
// subscribed to an event of kind against entity.
func (v *View) MatchingTriggers(kind datamodel.EventKind, entity string) []datamodel.TriggerId {
	return v.world.MatchingTriggers(kind, entity)
}

// EvaluateQuery answers q against this view. The concrete query language is
// out of this package's scope; this is the seam the executor's
// execute_query host import calls through after validation.
func (v *View) EvaluateQuery(q datamodel.Query) (any, error) {
	switch q.Kind {
	case datamodel.QueryFindAccount:
		return v.world.Account(q.Account)
	case datamodel.QueryFindAsset:
		return v.world.Asset(q.Asset)
	case datamodel.QueryFindDomain:
		return v.world.Domain(q.Domain)
	case datamodel.QueryFindAllAccounts:
		var out []*datamodel.Account
		for _, d := range v.world.Domains {
			for _, a := range d.Accounts {
				out = append(out, a)
			}
		}
		return out, nil
	default:
		return nil, datamodel.ErrNotFound
	}
}
