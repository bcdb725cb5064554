package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/digest"
	"github.com/oshokin/avb-guard/internal/domain/backupset"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/version"
)

const (
	// ManifestFilename is the name of the manifest inside a set directory.
	ManifestFilename = "manifest.yaml"
	// FormatVersion is written into new manifests. Readers accept any
	// manifest with the same major version.
	FormatVersion = "1.0.0"
)

// ErrManifestVersion is returned for manifests written by an incompatible release.
var ErrManifestVersion = errors.New("unsupported manifest format version")

// manifest is the on-disk description of a backup set.
type manifest struct {
	FormatVersion string            `yaml:"format_version"`
	Name          string            `yaml:"name"`
	CreatedAt     time.Time         `yaml:"created_at"`
	CreatedBy     *actorRecord      `yaml:"created_by,omitempty"`
	Tool          string            `yaml:"tool,omitempty"`
	State         backupset.State   `yaml:"state"`
	Valid         bool              `yaml:"valid"`
	SetRoot       string            `yaml:"set_root"`
	Partitions    []partitionRecord `yaml:"partitions"`
}

type actorRecord struct {
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`
}

type partitionRecord struct {
	Name   string `yaml:"name"`
	Length int64  `yaml:"length"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// newManifest describes set.
func newManifest(set *backupset.BackupSet) *manifest {
	m := &manifest{
		FormatVersion: FormatVersion,
		Name:          set.Name,
		CreatedAt:     set.CreatedAt.UTC(),
		Tool:          version.Tool(),
		State:         set.State,
		Valid:         set.Valid,
		SetRoot:       setRoot(set.Images.Digests()),
	}

	if set.CreatedBy != nil {
		m.CreatedBy = &actorRecord{
			Hostname: set.CreatedBy.Hostname,
			Username: set.CreatedBy.Username,
		}
	}

	for _, img := range set.Images.Images() {
		m.Partitions = append(m.Partitions, partitionRecord{
			Name:   img.ID().String(),
			Length: img.Length(),
			Size:   img.Size(),
			SHA256: img.Digest().String(),
		})
	}

	return m
}

// actor converts the recorded actor back into the domain type.
func (m *manifest) actor() *backupset.Actor {
	if m.CreatedBy == nil {
		return nil
	}

	return &backupset.Actor{
		Hostname: m.CreatedBy.Hostname,
		Username: m.CreatedBy.Username,
	}
}

// checkVersion accepts manifests with the same major format version.
func (m *manifest) checkVersion() error {
	current := semver.New(FormatVersion)

	found, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrManifestVersion, m.FormatVersion, err)
	}

	if found.Major != current.Major {
		return fmt.Errorf("%w: %s, expected %d.x", ErrManifestVersion, found, current.Major)
	}

	return nil
}

func writeManifest(dir string, m *manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Join(dir, ManifestFilename), data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err = yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if err = m.checkVersion(); err != nil {
		return nil, err
	}

	return &m, nil
}

// setRoot is the RFC 6962 Merkle tree hash over "<partition>:<digest>"
// leaves in canonical order. It pins the set as a unit: any change to
// membership or content changes the root.
func setRoot(digests partition.Digests) string {
	leaves := make([][]byte, 0, len(digests))
	for _, id := range digests.Sorted() {
		leaves = append(leaves, rfc6962.DefaultHasher.HashLeaf([]byte(id.String()+":"+digests[id].String())))
	}

	return fmt.Sprintf("%x", treeHash(leaves))
}

// treeHash folds leaf hashes into the RFC 6962 root with a compact range.
func treeHash(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return rfc6962.DefaultHasher.EmptyRoot()
	}

	factory := compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	tree := factory.NewEmptyRange(0)

	// Neither call can fail on a range that starts at zero.
	for _, leaf := range leaves {
		_ = tree.Append(leaf, nil)
	}

	root, _ := tree.GetRootHash(nil)

	return root
}

// digest decodes the recorded content digest.
func (p partitionRecord) digest() (digest.Digest, error) {
	return digest.Parse(p.SHA256)
}
