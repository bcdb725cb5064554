package avb

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/oshokin/avb-guard/internal/digest"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// Mode selects how rebuilt leaves are bound to the trust root.
type Mode int

const (
	// ModeAuto picks ModeTopLevel when a vbmeta image is supplied and
	// ModeChained otherwise, refusing when that would leave a leaf unbound.
	ModeAuto Mode = iota
	// ModeTopLevel re-signs the top-level vbmeta with fresh hash descriptors.
	ModeTopLevel
	// ModeChained only re-signs leaves that carry their own signed footer.
	ModeChained
)

// saltSize is the length of a regenerated salt.
const saltSize = 32

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "top-level", "toplevel", "top_level", "vbmeta":
		return ModeTopLevel, nil
	case "chained", "chain":
		return ModeChained, nil
	default:
		return ModeAuto, fmt.Errorf("rebuild mode %q: %w", s, ErrUnsupported)
	}
}

// String returns the canonical configuration spelling.
func (m Mode) String() string {
	switch m {
	case ModeTopLevel:
		return "top-level"
	case ModeChained:
		return "chained"
	default:
		return "auto"
	}
}

// Leaf is one partition to re-sign.
type Leaf struct {
	// Name is the partition name used in descriptors, without slot suffix.
	Name string
	// Payload is the (possibly patched) image. An existing footer is stripped.
	Payload []byte
	// Original is the image before patching. Its footer supplies the salt,
	// properties, rollback index and partition size. Nil means Payload.
	Original []byte
	// PartitionSize overrides the output size. Zero keeps the size of a footed
	// original, or the smallest size that fits for raw images.
	PartitionSize uint64
}

// RebuildInput holds the leaves and, when available, the top-level vbmeta.
type RebuildInput struct {
	Leaves []Leaf
	Vbmeta []byte
}

// RebuildOptions tunes Rebuild.
type RebuildOptions struct {
	Mode Mode
	// RegenerateSalt replaces original salts with fresh random ones.
	RegenerateSalt bool
	// Rand is the entropy source for salts. Nil means crypto/rand.
	Rand io.Reader
}

// RebuildResult is the freshly signed output.
type RebuildResult struct {
	// Images maps leaf names to rebuilt images.
	Images map[string][]byte
	// Vbmeta is nil in chained mode.
	Vbmeta []byte
	// Mode is the resolved mode, never ModeAuto.
	Mode Mode
}

// leafPlan is a leaf with its metadata resolved.
type leafPlan struct {
	name          string
	payload       []byte
	original      *Image
	partitionSize uint64
	selfSigned    bool
	descriptor    *HashDescriptor
}

// Rebuild strips the old AVB metadata from every leaf, recomputes hash
// descriptors and signs the result with root.
//
// Leaves whose original footer is signed are re-signed individually and any
// chain descriptor naming them in the top-level vbmeta is repointed at root.
// Other leaves get an unsigned footer and are bound by a hash descriptor in
// the top-level vbmeta, so they cannot be rebuilt without one.
func Rebuild(in RebuildInput, root *TrustRoot, opts RebuildOptions) (*RebuildResult, error) {
	key, err := root.signer()
	if err != nil {
		return nil, err
	}

	random := opts.Rand
	if random == nil {
		random = rand.Reader
	}

	plans := make([]*leafPlan, 0, len(in.Leaves))

	for _, leaf := range in.Leaves {
		plan, err := planLeaf(leaf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", leaf.Name, err)
		}

		plans = append(plans, plan)
	}

	var parent *Vbmeta

	if in.Vbmeta != nil {
		img, err := ParseImage(in.Vbmeta)
		if err != nil {
			return nil, fmt.Errorf("%w: vbmeta: %w", outcome.ErrSignatureInvalid, err)
		}

		if img.Vbmeta == nil {
			return nil, fmt.Errorf("%w: vbmeta image carries no vbmeta", outcome.ErrSignatureInvalid)
		}

		parent = img.Vbmeta
	}

	mode, err := resolveMode(opts.Mode, plans, parent != nil)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{
		Images: make(map[string][]byte, len(plans)),
		Mode:   mode,
	}

	bound := make([]*HashDescriptor, 0, len(plans))

	for _, plan := range plans {
		desc, err := plan.hashDescriptor(parent, opts.RegenerateSalt, random)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", plan.name, err)
		}

		vb := plan.leafVbmeta(desc)

		if plan.selfSigned {
			if vb.Algorithm, err = AlgorithmFor(plan.original.Vbmeta.Algorithm.Hash(), root.KeyBits()); err != nil {
				return nil, fmt.Errorf("%s: %w", plan.name, err)
			}
		} else {
			bound = append(bound, desc)
		}

		blob, err := vb.encode(key, random)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", plan.name, err)
		}

		image, err := AppendFooter(plan.payload, blob, plan.partitionSize)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", plan.name, err)
		}

		result.Images[plan.name] = image
	}

	if mode == ModeChained {
		return result, nil
	}

	top, err := rebindParent(parent, plans, bound, root)
	if err != nil {
		return nil, err
	}

	blob, err := top.encode(key, random)
	if err != nil {
		return nil, fmt.Errorf("vbmeta: %w", err)
	}

	result.Vbmeta = padBlob(blob, BlockSize)

	return result, nil
}

// planLeaf parses the original image and strips the footer of the payload.
func planLeaf(leaf Leaf) (*leafPlan, error) {
	source := leaf.Original
	if source == nil {
		source = leaf.Payload
	}

	original, err := ParseImage(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if original.Bare() {
		return nil, fmt.Errorf("%w: a vbmeta image cannot be rebuilt as a leaf", ErrUnsupported)
	}

	payload, err := StripFooter(leaf.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	size := leaf.PartitionSize
	if size == 0 && original.Footer != nil {
		size = uint64(len(source))
	}

	plan := &leafPlan{
		name:          leaf.Name,
		payload:       payload,
		original:      original,
		partitionSize: size,
		selfSigned:    original.SelfSigned(),
	}

	if original.Vbmeta != nil {
		plan.descriptor, _, _ = original.Vbmeta.HashDescriptorFor(leaf.Name)
	}

	return plan, nil
}

// resolveMode applies the binding rules: a leaf without its own signature,
// and any init_boot-class leaf, needs a top-level vbmeta unless the operator
// explicitly asked for chained mode and every leaf is self-signed.
func resolveMode(requested Mode, plans []*leafPlan, haveVbmeta bool) (Mode, error) {
	var unsigned, initBoot []string

	for _, plan := range plans {
		if !plan.selfSigned {
			unsigned = append(unsigned, plan.name)
		}

		if kind, err := partition.ParseKind(plan.name); err == nil && kind.IsInitBootClass() {
			initBoot = append(initBoot, plan.name)
		}
	}

	switch requested {
	case ModeTopLevel:
		if !haveVbmeta {
			return requested, fmt.Errorf("%w: top-level mode without a vbmeta image", outcome.ErrChainBindingMissing)
		}
	case ModeChained:
		if len(unsigned) > 0 {
			return requested, fmt.Errorf("%w: %v carry no signature of their own", outcome.ErrChainBindingMissing, unsigned)
		}
	default:
		if haveVbmeta {
			return ModeTopLevel, nil
		}

		if len(initBoot) > 0 {
			return requested, fmt.Errorf("%w: %v present without a vbmeta image", outcome.ErrChainBindingMissing, initBoot)
		}

		if len(unsigned) > 0 {
			return requested, fmt.Errorf("%w: %v need a vbmeta image", outcome.ErrChainBindingMissing, unsigned)
		}

		return ModeChained, nil
	}

	return requested, nil
}

// hashDescriptor computes a fresh hash descriptor over the stripped payload.
// The salt and hash algorithm come from the leaf's own descriptor or, for
// hash-bound leaves, from the parent vbmeta.
func (p *leafPlan) hashDescriptor(parent *Vbmeta, regenerate bool, random io.Reader) (*HashDescriptor, error) {
	previous := p.descriptor
	if previous == nil && parent != nil {
		previous, _, _ = parent.HashDescriptorFor(p.name)
	}

	desc := &HashDescriptor{
		ImageSize:     uint64(len(p.payload)),
		HashAlgorithm: hashName(crypto.SHA256),
		PartitionName: p.name,
	}

	if previous != nil {
		desc.HashAlgorithm = previous.HashAlgorithm
		desc.Flags = previous.Flags
		desc.Salt = bytes.Clone(previous.Salt)
	}

	if regenerate || len(desc.Salt) == 0 {
		desc.Salt = make([]byte, saltSize)
		if _, err := io.ReadFull(random, desc.Salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}

	h, err := hashByName(desc.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	if desc.Digest, err = digest.Salted(h, desc.Salt, p.payload); err != nil {
		return nil, err
	}

	return desc, nil
}

// leafVbmeta builds the footer vbmeta. Everything but the leaf's own hash
// descriptor is carried over, so property descriptors survive the rebuild.
func (p *leafPlan) leafVbmeta(desc *HashDescriptor) *Vbmeta {
	vb := &Vbmeta{Algorithm: AlgorithmNone}

	if old := p.original.Vbmeta; old != nil {
		vb.RollbackIndex = old.RollbackIndex
		vb.RollbackIndexLocation = old.RollbackIndexLocation
		vb.Flags = old.Flags
		vb.RequiredLibavbMinor = old.RequiredLibavbMinor
		vb.Descriptors = replaceDescriptor(old.Descriptors, desc)
	} else {
		vb.Descriptors = []Descriptor{desc}
	}

	return vb
}

// rebindParent produces the new top-level vbmeta: hash descriptors of
// hash-bound leaves are replaced in place or appended, and chain descriptors
// of self-signed leaves are repointed at root. A self-signed leaf the parent
// does not mention yet gets a new chain descriptor.
func rebindParent(parent *Vbmeta, plans []*leafPlan, bound []*HashDescriptor, root *TrustRoot) (*Vbmeta, error) {
	h := parent.Algorithm.Hash()
	if parent.Algorithm == AlgorithmNone {
		h = crypto.SHA256
	}

	algorithm, err := AlgorithmFor(h, root.KeyBits())
	if err != nil {
		return nil, fmt.Errorf("vbmeta: %w", err)
	}

	descriptors := cloneDescriptors(parent.Descriptors)

	for _, desc := range bound {
		descriptors = replaceDescriptor(descriptors, desc)
	}

	for _, plan := range plans {
		if !plan.selfSigned {
			continue
		}

		chained := false

		for i, d := range descriptors {
			chain, ok := d.(*ChainPartitionDescriptor)
			if !ok || chain.PartitionName != plan.name {
				continue
			}

			repointed := *chain
			repointed.PublicKey = bytes.Clone(root.KeyBlob())
			descriptors[i] = &repointed
			chained = true
		}

		if !chained && !parent.Binds(plan.name) {
			descriptors = append(descriptors, &ChainPartitionDescriptor{
				RollbackIndexLocation: plan.original.Vbmeta.RollbackIndexLocation,
				PartitionName:         plan.name,
				PublicKey:             bytes.Clone(root.KeyBlob()),
			})
		}
	}

	return &Vbmeta{
		Algorithm:             algorithm,
		RollbackIndex:         parent.RollbackIndex,
		RollbackIndexLocation: parent.RollbackIndexLocation,
		Flags:                 parent.Flags,
		RequiredLibavbMinor:   parent.RequiredLibavbMinor,
		PublicKeyMetadata:     bytes.Clone(parent.PublicKeyMetadata),
		Descriptors:           descriptors,
	}, nil
}

// replaceDescriptor swaps the hash descriptor for desc's partition, or appends desc.
func replaceDescriptor(descriptors []Descriptor, desc *HashDescriptor) []Descriptor {
	out := cloneDescriptors(descriptors)

	for i, d := range out {
		if old, ok := d.(*HashDescriptor); ok && old.PartitionName == desc.PartitionName {
			out[i] = desc
			return out
		}
	}

	return append(out, desc)
}

func cloneDescriptors(descriptors []Descriptor) []Descriptor {
	return append([]Descriptor(nil), descriptors...)
}
