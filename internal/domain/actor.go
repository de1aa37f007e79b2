package domain

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionAdjust   Action = "adjust"
	ActionTransfer Action = "transfer"
	ActionReceive  Action = "receive"
	ActionRefund   Action = "refund"
	ActionOpen     Action = "open"
	ActionClose    Action = "close"
	ActionManage   Action = "manage"
)

type Resource string

const (
	ResourceInventory     Resource = "Inventory"
	ResourcePurchaseOrder Resource = "PurchaseOrder"
	ResourceSupplier      Resource = "Supplier"
	ResourceSale          Resource = "Sale"
	ResourceRegister      Resource = "Register"
	ResourceAll           Resource = "all"
)

// Permission is one closed (action, resource) grant.
type Permission struct {
	Action   Action
	Resource Resource
}

var (
	PermInventoryRead     = Permission{ActionRead, ResourceInventory}
	PermInventoryAdjust   = Permission{ActionAdjust, ResourceInventory}
	PermInventoryTransfer = Permission{ActionTransfer, ResourceInventory}
	PermSupplierCreate    = Permission{ActionCreate, ResourceSupplier}
	PermSupplierRead      = Permission{ActionRead, ResourceSupplier}
	PermPOCreate          = Permission{ActionCreate, ResourcePurchaseOrder}
	PermPORead            = Permission{ActionRead, ResourcePurchaseOrder}
	PermPOUpdate          = Permission{ActionUpdate, ResourcePurchaseOrder}
	PermPOReceive         = Permission{ActionReceive, ResourcePurchaseOrder}
	PermSaleCreate        = Permission{ActionCreate, ResourceSale}
	PermSaleRead          = Permission{ActionRead, ResourceSale}
	PermSaleRefund        = Permission{ActionRefund, ResourceSale}
	PermRegisterOpen      = Permission{ActionOpen, ResourceRegister}
	PermRegisterClose     = Permission{ActionClose, ResourceRegister}
	PermRegisterRead      = Permission{ActionRead, ResourceRegister}
	PermManageAll         = Permission{ActionManage, ResourceAll}
)

var knownPermissions = []Permission{
	PermInventoryRead, PermInventoryAdjust, PermInventoryTransfer,
	PermSupplierCreate, PermSupplierRead,
	PermPOCreate, PermPORead, PermPOUpdate, PermPOReceive,
	PermSaleCreate, PermSaleRead, PermSaleRefund,
	PermRegisterOpen, PermRegisterClose, PermRegisterRead,
	PermManageAll,
}

func (p Permission) String() string {
	return string(p.Action) + ":" + string(p.Resource)
}

// ParsePermission maps an "action:Resource" grant onto the closed set.
// Grants outside the set are rejected.
func ParsePermission(raw string) (Permission, error) {
	action, resource, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Permission{}, fmt.Errorf("malformed permission %q", raw)
	}
	candidate := Permission{Action: Action(action), Resource: Resource(resource)}
	for _, known := range knownPermissions {
		if known == candidate {
			return candidate, nil
		}
	}
	return Permission{}, fmt.Errorf("unknown permission %q", raw)
}

// ActorContext is the already-authenticated caller of a core operation.
type ActorContext struct {
	TenantID    int64
	UserID      int64
	Permissions []Permission
}

func (a ActorContext) Can(p Permission) bool {
	for _, granted := range a.Permissions {
		if granted == PermManageAll || granted == p {
			return true
		}
	}
	return false
}

func (a ActorContext) Valid() bool {
	return a.TenantID > 0 && a.UserID > 0
}
