package pairs

import (
	"encoding/json"
	"fmt"
)

// MirrorColumn declares one plaintext column exposed by a mirror table.
type MirrorColumn struct {
	Name    string
	Type    string // SQLite column type, e.g. TEXT, INTEGER
	NotNull bool
	Default string // raw default expression, empty for none
}

// ParseInput carries the decrypted payload plus the metadata of the opaque
// row it came from into a pair's ParsePlain hook.
type ParseInput struct {
	Plaintext []byte
	AAD       string
	Row       *EncryptedRow
}

// ParseFunc projects a decrypted payload onto the pair's declared mirror
// columns. The returned map is keyed by mirror column name; missing keys
// are written as NULL.
type ParseFunc func(in ParseInput) (map[string]any, error)

// SerializeFunc is the inverse direction: it turns a domain object into the
// plaintext bytes and associated data to encrypt.
type SerializeFunc func(object any) (plaintext []byte, aad string, err error)

// Pair is the static declaration tying an opaque ciphertext table to its
// derived plaintext mirror table. Pairs are declared once at startup and
// never mutated; multiple pairs may exist concurrently and are independent.
type Pair struct {
	Name           string
	EncryptedTable string
	MirrorTable    string
	MirrorColumns  []MirrorColumn

	// DefaultAAD is bound into every envelope written for this pair unless
	// the mutation overrides it.
	DefaultAAD string

	// MirrorExtraIndexes are complete CREATE INDEX statements appended
	// verbatim after the mirror table's default index.
	MirrorExtraIndexes []string

	ParsePlain     ParseFunc
	SerializePlain SerializeFunc
}

// Validate checks that the pair declaration is complete enough to install
// and replicate.
func (p *Pair) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pair has no name")
	}
	if p.EncryptedTable == "" || p.MirrorTable == "" {
		return fmt.Errorf("pair %s must declare both an encrypted and a mirror table", p.Name)
	}
	if p.EncryptedTable == p.MirrorTable {
		return fmt.Errorf("pair %s declares the same table for ciphertext and mirror", p.Name)
	}
	if len(p.MirrorColumns) == 0 {
		return fmt.Errorf("pair %s declares no mirror columns", p.Name)
	}
	for _, col := range p.MirrorColumns {
		if col.Name == "" || col.Type == "" {
			return fmt.Errorf("pair %s has a mirror column without name or type", p.Name)
		}
	}
	if p.ParsePlain == nil {
		return fmt.Errorf("pair %s has no ParsePlain function", p.Name)
	}
	return nil
}

// Serialize resolves the plaintext bytes and aad for a domain object, using
// the pair's SerializePlain hook when declared and JSON otherwise.
func (p *Pair) Serialize(object any) (plaintext []byte, aad string, err error) {
	if p.SerializePlain != nil {
		return p.SerializePlain(object)
	}

	data, err := json.Marshal(object)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize object for pair %s: %w", p.Name, err)
	}
	return data, p.DefaultAAD, nil
}
