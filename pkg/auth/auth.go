package auth

import (
	"fmt"
	"regexp"

	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/cbodonnell/starminers/pkg/whitelist"
)

// Mode selects which service variant the resolver enforces.
type Mode string

const (
	// ModeSharedKey lets any well-formed key submit and read its own sightings
	ModeSharedKey Mode = "shared_key"
	// ModePassword requires whitelisted scout or master passwords to submit
	ModePassword Mode = "password"
)

// DefaultKeyPattern is the format required of shared keys
const DefaultKeyPattern = `^[a-zA-Z]{1,10}$`

// Tier is the classification of a credential against both whitelists.
type Tier struct {
	IsScout  bool
	IsMaster bool
}

// Resolver classifies credentials and enforces per-operation requirements.
type Resolver struct {
	mode       Mode
	registry   *whitelist.Registry
	keyPattern *regexp.Regexp
}

type NewResolverOptions struct {
	Mode       Mode
	Registry   *whitelist.Registry
	KeyPattern string
}

func NewResolver(opts NewResolverOptions) (*Resolver, error) {
	pattern := opts.KeyPattern
	if pattern == "" {
		pattern = DefaultKeyPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile key pattern: %w", err)
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModePassword
	}
	if mode != ModePassword && mode != ModeSharedKey {
		return nil, fmt.Errorf("unknown auth mode: %s", mode)
	}
	return &Resolver{
		mode:       mode,
		registry:   opts.Registry,
		keyPattern: re,
	}, nil
}

func (r *Resolver) Mode() Mode {
	return r.mode
}

// Classify checks credential against the whitelists as they are right now.
func (r *Resolver) Classify(credential string) Tier {
	snap := r.registry.Snapshot()
	return Tier{
		IsScout:  snap.IsScout(credential),
		IsMaster: snap.IsMaster(credential),
	}
}

// RequireKey checks that a credential is present and well-formed. No
// whitelist membership is required.
func (r *Resolver) RequireKey(credential string) error {
	if credential == "" || !r.keyPattern.MatchString(credential) {
		return &stars.AuthorizationError{Msg: stars.ErrMsgAuthorization}
	}
	return nil
}

// RequireSubmitter checks that credential may submit sightings. In password
// mode it must be a scout or a master, and in every mode it must be well-formed.
func (r *Resolver) RequireSubmitter(credential string) error {
	if r.mode == ModePassword {
		tier := r.Classify(credential)
		if !tier.IsScout && !tier.IsMaster {
			return &stars.AuthorizationError{Msg: stars.ErrMsgAuthorizationScout}
		}
	}
	return r.RequireKey(credential)
}

// RequireMaster checks that credential is a master. Masters are not held to
// the key format.
func (r *Resolver) RequireMaster(credential string) error {
	if r.mode != ModePassword || !r.Classify(credential).IsMaster {
		return &stars.AuthorizationError{Msg: stars.ErrMsgAuthorizationScout}
	}
	return nil
}

// Label returns how owner is shown in the audit view: masters are replaced
// by a fixed label, scouts are shown verbatim.
func Label(snap *whitelist.Snapshot, owner string) string {
	if snap.IsMaster(owner) {
		return stars.MasterLabel
	}
	return owner
}

// Registry returns the whitelist registry the resolver reads from.
func (r *Resolver) Registry() *whitelist.Registry {
	return r.registry
}
