package engine

// AccessPolicy resolves whether an identity may act in a given role.
// The embedding system can supply its own identity/ACL provider; the
// static policy below covers the common case.
type AccessPolicy interface {
	CanCancel(order *Order, caller string) bool
	CanApprove(order *Order, approver string) bool
	IsGovernance(account string) bool
}

// StaticAccessPolicy authorizes the order owner to cancel, the order's
// stored approver list to approve, and a fixed governance set for
// treasury operations.
type StaticAccessPolicy struct {
	governance map[string]struct{}
}

func NewStaticAccessPolicy(governanceAccounts []string) *StaticAccessPolicy {
	gov := make(map[string]struct{}, len(governanceAccounts))
	for _, account := range governanceAccounts {
		gov[account] = struct{}{}
	}
	return &StaticAccessPolicy{governance: gov}
}

func (p *StaticAccessPolicy) CanCancel(order *Order, caller string) bool {
	return caller != "" && caller == order.Owner
}

func (p *StaticAccessPolicy) CanApprove(order *Order, approver string) bool {
	for _, eligible := range order.Approvers {
		if eligible == approver {
			return true
		}
	}
	return false
}

func (p *StaticAccessPolicy) IsGovernance(account string) bool {
	_, ok := p.governance[account]
	return ok
}
