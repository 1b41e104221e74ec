package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Capability is a permission checked at the HTTP boundary. Roles are mapped
// to capabilities once, here, and nowhere else.
type Capability string

const (
	CapScheduleRead      Capability = "schedule:read"
	CapScheduleWrite     Capability = "schedule:write"
	CapScheduleManageAny Capability = "schedule:manage-any"
	CapVerificationUse   Capability = "verification:use"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:   {CapScheduleRead, CapScheduleWrite, CapScheduleManageAny, CapVerificationUse},
	RoleDoctor:  {CapScheduleRead, CapScheduleWrite, CapVerificationUse},
	RolePatient: {CapScheduleRead, CapVerificationUse},
}

// ParseRole normalises a role name. Unknown names report false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleCapabilities[r]
	return r, ok
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ID    uuid.UUID
	Email string
	Roles []Role
	caps  map[Capability]bool
}

// NewPrincipal builds a principal from raw role names, ignoring unknown ones.
func NewPrincipal(id uuid.UUID, roles ...string) *Principal {
	p := &Principal{ID: id, caps: make(map[Capability]bool)}
	for _, raw := range roles {
		r, ok := ParseRole(raw)
		if !ok || p.Has(r) {
			continue
		}
		p.Roles = append(p.Roles, r)
		for _, c := range roleCapabilities[r] {
			p.caps[c] = true
		}
	}
	return p
}

func (p *Principal) Has(r Role) bool {
	if p == nil {
		return false
	}
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (p *Principal) Can(c Capability) bool {
	return p != nil && p.caps[c]
}

// CanManageDoctor reports whether the principal may change doctorID's
// schedule: either it is that doctor, or it may manage any doctor.
func (p *Principal) CanManageDoctor(doctorID uuid.UUID) bool {
	if !p.Can(CapScheduleWrite) {
		return false
	}
	return p.Can(CapScheduleManageAny) || (p.Has(RoleDoctor) && p.ID == doctorID)
}

func (p *Principal) RoleNames() []string {
	out := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		out[i] = string(r)
	}
	return out
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}
