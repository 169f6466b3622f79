// Package principal identifies the owner of grants, usage and webhooks.
// A principal is passed explicitly through every service call; there is no
// ambient "current workspace" resolved from global state.
package principal

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindNamespace Kind = "namespace"
)

var ErrInvalidPrincipal = errors.New("invalid_principal")

// Ref is a typed reference to a workspace or namespace.
type Ref struct {
	Kind Kind
	ID   snowflake.ID
}

func Workspace(id snowflake.ID) Ref { return Ref{Kind: KindWorkspace, ID: id} }
func Namespace(id snowflake.ID) Ref { return Ref{Kind: KindNamespace, ID: id} }

func (r Ref) IsZero() bool { return r.ID == 0 }

func (r Ref) Valid() bool {
	if r.ID == 0 {
		return false
	}
	switch r.Kind {
	case KindWorkspace, KindNamespace:
		return true
	default:
		return false
	}
}

// Key returns the stable cache/queue key form, e.g. "workspace:1234".
func (r Ref) Key() string {
	return string(r.Kind) + ":" + r.ID.String()
}

func (r Ref) String() string { return r.Key() }

// Parse parses a Ref from its Key form.
func Parse(value string) (Ref, error) {
	kind, raw, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return Ref{}, ErrInvalidPrincipal
	}
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return Ref{}, ErrInvalidPrincipal
	}
	ref := Ref{Kind: Kind(kind), ID: id}
	if !ref.Valid() {
		return Ref{}, ErrInvalidPrincipal
	}
	return ref, nil
}
