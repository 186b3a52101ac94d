package domain

// ChainSide names one of the two chains of a gateway pair.
type ChainSide string

const (
	ChainSideOrigin    ChainSide = "origin"
	ChainSideAuxiliary ChainSide = "auxiliary"
)

// EntityType is the indexer entity name of an on-chain event kind.
type EntityType string

// Origin chain events.
const (
	EntityStakeRequested              EntityType = "stakeRequesteds"
	EntityStakeIntentDeclared         EntityType = "stakeIntentDeclareds"
	EntityStakeProgressed             EntityType = "stakeProgresseds"
	EntityRevertStakeIntentDeclared   EntityType = "revertStakeIntentDeclareds"
	EntityRevertStakeProgressed       EntityType = "revertStakeProgresseds"
	EntityRedeemIntentConfirmed       EntityType = "redeemIntentConfirmeds"
	EntityUnstakeProgressed           EntityType = "unstakeProgresseds"
	EntityRevertRedeemIntentConfirmed EntityType = "revertRedeemIntentConfirmeds"
)

// Auxiliary chain events.
const (
	EntityRedeemRequested            EntityType = "redeemRequesteds"
	EntityRedeemIntentDeclared       EntityType = "redeemIntentDeclareds"
	EntityRedeemProgressed           EntityType = "redeemProgresseds"
	EntityRevertRedeemDeclared       EntityType = "revertRedeemDeclareds"
	EntityRevertRedeemProgressed     EntityType = "revertRedeemProgresseds"
	EntityStakeIntentConfirmed       EntityType = "stakeIntentConfirmeds"
	EntityMintProgressed             EntityType = "mintProgresseds"
	EntityRevertStakeIntentConfirmed EntityType = "revertStakeIntentConfirmeds"
)

// entitySides maps every known entity type to the chain that emits it.
var entitySides = map[EntityType]ChainSide{
	EntityStakeRequested:              ChainSideOrigin,
	EntityStakeIntentDeclared:         ChainSideOrigin,
	EntityStakeProgressed:             ChainSideOrigin,
	EntityRevertStakeIntentDeclared:   ChainSideOrigin,
	EntityRevertStakeProgressed:       ChainSideOrigin,
	EntityRedeemIntentConfirmed:       ChainSideOrigin,
	EntityUnstakeProgressed:           ChainSideOrigin,
	EntityRevertRedeemIntentConfirmed: ChainSideOrigin,

	EntityRedeemRequested:            ChainSideAuxiliary,
	EntityRedeemIntentDeclared:       ChainSideAuxiliary,
	EntityRedeemProgressed:           ChainSideAuxiliary,
	EntityRevertRedeemDeclared:       ChainSideAuxiliary,
	EntityRevertRedeemProgressed:     ChainSideAuxiliary,
	EntityStakeIntentConfirmed:       ChainSideAuxiliary,
	EntityMintProgressed:             ChainSideAuxiliary,
	EntityRevertStakeIntentConfirmed: ChainSideAuxiliary,
}

// Known reports whether t is an entity type this service understands.
func (t EntityType) Known() bool {
	_, ok := entitySides[t]
	return ok
}

// ChainSide returns the chain that emits t.
func (t EntityType) ChainSide() (ChainSide, bool) {
	s, ok := entitySides[t]
	return s, ok
}

// EntityTypes returns all entity types emitted on the given chain.
func EntityTypes(side ChainSide) []EntityType {
	var out []EntityType
	for t, s := range entitySides {
		if s == side {
			out = append(out, t)
		}
	}
	return out
}
